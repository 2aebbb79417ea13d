package dht

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	config := DefaultConfig()
	config.BucketSize = 4
	config.RequestTimeout = 200 * time.Millisecond
	return config
}

func TestLookupConvergence(t *testing.T) {
	network := newTestNetwork(t, 64, testConfig())
	network.connectAll()

	origin := network.any()
	config := testConfig()

	for n := 0; n < 10; n++ {
		target := newTestNode(t).ID()
		expected := network.closest(target)

		known := origin.table.FindClosest(target)
		require.NotEmpty(t, known)
		start := known[0].ID()

		result := origin.searcher.Lookup(context.Background(), target)
		require.NotEmpty(t, result)
		assert.Equal(t, expected[0], result[0].ID())
		assert.LessOrEqual(t, len(result), config.Alpha)

		for _, node := range result {
			assert.True(t, protocol.CompareDistance(target, node.ID(), start) <= 0, "%s is farther than %s", node.ID(), start)
		}
		for i := 1; i < len(result); i++ {
			assert.True(t, protocol.IsCloser(target, result[i-1].ID(), result[i].ID()))
		}
	}
}

func TestLookupSmallAlpha(t *testing.T) {
	config := testConfig()
	config.Alpha = 1
	network := newTestNetwork(t, 32, config)
	network.connectAll()

	origin := network.any()
	target := newTestNode(t).ID()
	start := origin.table.FindClosest(target)[0].ID()

	result := origin.searcher.Lookup(context.Background(), target)
	require.Len(t, result, 1)
	assert.Equal(t, network.closest(target)[0], result[0].ID())
	assert.True(t, protocol.CompareDistance(target, result[0].ID(), start) <= 0)
}

func TestLookupIgnoresInvalidNodes(t *testing.T) {
	network := newTestNetwork(t, 32, testConfig())
	network.connectAll()

	target := newTestNode(t).ID()
	invalid := network.closest(target)[0]
	network.validator.invalid.Store(invalid, true)

	var origin *testPeer
	for _, peer := range network.peers {
		if peer.node.ID() != invalid {
			origin = peer
			break
		}
	}

	result := origin.searcher.Lookup(context.Background(), target)
	require.NotEmpty(t, result)
	for _, node := range result {
		assert.NotEqual(t, invalid, node.ID())
	}
	assert.Equal(t, network.closest(target)[0], result[0].ID())
}

func TestLookupOfflinePeers(t *testing.T) {
	network := newTestNetwork(t, 32, testConfig())
	network.connectAll()

	origin := network.any()
	for id := range network.peers {
		if id != origin.node.ID() {
			network.offline.Store(id, true)
		}
	}

	// the lookup terminates with the nearest node known locally
	target := newTestNode(t).ID()
	start := origin.table.FindClosest(target)[0].ID()
	result := origin.searcher.Lookup(context.Background(), target)
	require.Len(t, result, 1)
	assert.Equal(t, start, result[0].ID())

	// looking up the own ID returns the local node
	result = origin.searcher.Lookup(context.Background(), origin.node.ID())
	require.NotEmpty(t, result)
	assert.Equal(t, origin.node.ID(), result[0].ID())
}

// failingRunner rejects every task.
type failingRunner struct{}

func (failingRunner) Go(ctx context.Context, task func()) error {
	return errors.New("pool is closed")
}

func TestPingUnknownSchedulingError(t *testing.T) {
	network := newTestNetwork(t, 2, testConfig())

	var peers []*testPeer
	for _, peer := range network.peers {
		peers = append(peers, peer)
	}
	origin, other := peers[0], peers[1]

	searcher := NewSearcher(origin.table, network, network.validator, origin.holder, func() *protocol.ExtendedNode { return origin.node }, failingRunner{}, testConfig())

	logged := make(chan string, 1)
	searcher.LogError = func(function, format string, v ...interface{}) {
		logged <- function + ": " + fmt.Sprintf(format, v...)
	}

	searcher.pingUnknown([]*protocol.ExtendedNode{origin.node, other.node})

	select {
	case message := <-logged:
		assert.Contains(t, message, "Searcher.pingUnknown")
		assert.Contains(t, message, "pool is closed")
	case <-time.After(time.Second):
		t.Fatal("scheduling error was not logged")
	}

	assert.False(t, origin.table.IsPresent(other.node))
}

func TestStoreAndGet(t *testing.T) {
	network := newTestNetwork(t, 32, testConfig())
	network.connectAll()

	origin := network.any()
	key := protocol.NewKey("file.txt", protocol.NewSeedHasher(network.seeds.CurrentSeed()))
	value := protocol.Value{Data: []byte("content"), Annotation: "v1"}

	require.True(t, origin.searcher.Store(context.Background(), key, value))

	// any node finds the value
	for _, peer := range network.peers {
		values, found := peer.searcher.Get(context.Background(), key)
		require.True(t, found, "get from %s", peer.node.ID())
		assert.Equal(t, []protocol.Value{value}, values)
	}

	_, found := origin.searcher.Get(context.Background(), protocol.NewKey("missing", protocol.NewSeedHasher(network.seeds.CurrentSeed())))
	assert.False(t, found)
}

func TestGetIgnoresInvalidResponders(t *testing.T) {
	network := newTestNetwork(t, 16, testConfig())
	network.connectAll()

	key := protocol.NewKey("k", protocol.NewSeedHasher(network.seeds.CurrentSeed()))
	value := protocol.Value{Data: []byte("poison")}

	// every node holds the value, but all except the origin lose their token
	origin := network.any()
	for id, peer := range network.peers {
		require.True(t, peer.holder.Store(key, value))
		if id != origin.node.ID() {
			network.validator.invalid.Store(id, true)
		}
	}
	origin.holder.Delete(key, value)

	_, found := origin.searcher.Get(context.Background(), key)
	assert.False(t, found)
}

func TestKeyMigration(t *testing.T) {
	network := newTestNetwork(t, 32, testConfig())
	network.connectAll()

	key := protocol.NewKey("migrate", protocol.NewSeedHasher(network.seeds.CurrentSeed()))
	value := protocol.Value{Data: []byte("data")}

	// the holder is the node farthest from the key
	ordered := network.closest(key.ID)
	holder := network.peers[ordered[len(ordered)-1]]
	require.True(t, holder.holder.Store(key, value))

	assert.Equal(t, 1, holder.searcher.MigrateKeys())

	closest := network.peers[ordered[0]]
	values, found := closest.holder.Get(key)
	assert.True(t, found)
	assert.Equal(t, []protocol.Value{value}, values)

	// the local copy is kept
	_, found = holder.holder.Get(key)
	assert.True(t, found)

	// the closest node does not migrate
	assert.Equal(t, 0, closest.searcher.MigrateKeys())
}

func TestKeyMigratorStop(t *testing.T) {
	peer := newTestNetwork(t, 1, testConfig()).any()
	peer.searcher.StartKeysMigrator()
	peer.searcher.Stop()
	peer.searcher.Stop()

	// starting after stop exits immediately
	other := newTestNetwork(t, 1, testConfig()).any()
	other.searcher.Stop()
	other.searcher.StartKeysMigrator()
}
