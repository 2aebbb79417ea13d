package dht

import (
	"context"
	"sync"
	"testing"

	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/btcsuite/btcd/btcec"
	"github.com/stretchr/testify/require"
)

// testValidator considers every node valid unless marked invalid.
type testValidator struct {
	invalid sync.Map
}

func (v *testValidator) IsOldWorker(node *protocol.ExtendedNode) bool {
	_, bad := v.invalid.Load(node.ID())
	return !bad
}

func (v *testValidator) AreCorrectlyOld(nodes []*protocol.ExtendedNode) map[protocol.ID]bool {
	result := make(map[protocol.ID]bool, len(nodes))
	for _, node := range nodes {
		result[node.ID()] = v.IsOldWorker(node)
	}
	return result
}

// testSeeds is a seed oracle with manually rotated seeds.
type testSeeds struct {
	sync.Mutex
	current, last []byte
}

func (s *testSeeds) CurrentSeed() []byte {
	s.Lock()
	defer s.Unlock()
	return s.current
}

func (s *testSeeds) LastSeed() []byte {
	s.Lock()
	defer s.Unlock()
	return s.last
}

func (s *testSeeds) rotate(seed []byte) {
	s.Lock()
	s.last, s.current = s.current, seed
	s.Unlock()
}

// goRunner runs every task in a new goroutine.
type goRunner struct{}

func (goRunner) Go(ctx context.Context, task func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	go task()
	return nil
}

func newTestNode(t testing.TB) *protocol.ExtendedNode {
	privateKey, err := btcec.NewPrivateKey(btcec.S256())
	require.NoError(t, err)
	publicKey := privateKey.PubKey()

	node := protocol.NewNode(publicKey, protocol.Address{Host: "127.0.0.1", UDPPort: 1000, TCPPort: 1001})
	extended, err := protocol.NewExtendedNode(node, protocol.Token{ID: node.ID, SeedBlockNumber: 1, PublicKey: publicKey}, 2)
	require.NoError(t, err)
	return extended
}

// testPeer is a single node of the synthetic network
type testPeer struct {
	node     *protocol.ExtendedNode
	table    *RoutingTable
	holder   *KeyHolder
	searcher *Searcher
}

// testNetwork is an in-memory network. It implements Transport by calling the peers directly.
type testNetwork struct {
	peers     map[protocol.ID]*testPeer
	validator *testValidator
	seeds     *testSeeds
	offline   sync.Map
}

func newTestNetwork(t testing.TB, count int, config Config) *testNetwork {
	network := &testNetwork{
		peers:     make(map[protocol.ID]*testPeer),
		validator: &testValidator{},
		seeds:     &testSeeds{current: []byte("seed 1"), last: []byte("seed 0")},
	}

	for n := 0; n < count; n++ {
		node := newTestNode(t)
		peer := &testPeer{node: node}
		peer.table = NewRoutingTable(node.ID(), config.BucketSize, config.LookupFanout, func() *protocol.ExtendedNode { return node }, network.validator)
		peer.holder = NewKeyHolder(network.seeds, config.MaxValues)
		peer.searcher = NewSearcher(peer.table, network, network.validator, peer.holder, func() *protocol.ExtendedNode { return node }, goRunner{}, config)
		network.peers[node.ID()] = peer
	}

	return network
}

// connectAll inserts every node into every table
func (network *testNetwork) connectAll() {
	for _, peer := range network.peers {
		for _, other := range network.peers {
			peer.table.Insert(other.node)
		}
	}
}

func (network *testNetwork) any() *testPeer {
	for _, peer := range network.peers {
		return peer
	}
	return nil
}

// closest returns the IDs of all valid nodes sorted by distance to the target
func (network *testNetwork) closest(target protocol.ID) []protocol.ID {
	var nodes []*protocol.ExtendedNode
	for _, peer := range network.peers {
		if network.validator.IsOldWorker(peer.node) {
			nodes = append(nodes, peer.node)
		}
	}
	nodes = sortByDistance(target, nodes)

	ids := make([]protocol.ID, len(nodes))
	for n := range nodes {
		ids[n] = nodes[n].ID()
	}
	return ids
}

func (network *testNetwork) peer(node *protocol.ExtendedNode) (*testPeer, error) {
	if _, down := network.offline.Load(node.ID()); down {
		return nil, context.DeadlineExceeded
	}
	peer, ok := network.peers[node.ID()]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return peer, nil
}

func (network *testNetwork) FindNode(ctx context.Context, node *protocol.ExtendedNode, target protocol.ID) ([]*protocol.ExtendedNode, error) {
	peer, err := network.peer(node)
	if err != nil {
		return nil, err
	}
	return peer.table.FindClosest(target), nil
}

func (network *testNetwork) FindValue(ctx context.Context, node *protocol.ExtendedNode, key protocol.Key) (*protocol.ExtendedNode, []protocol.Value, error) {
	peer, err := network.peer(node)
	if err != nil {
		return nil, nil, err
	}
	values, _ := peer.holder.Get(key)
	return peer.node, values, nil
}

func (network *testNetwork) Store(ctx context.Context, node *protocol.ExtendedNode, key protocol.Key, value protocol.Value) (bool, error) {
	peer, err := network.peer(node)
	if err != nil {
		return false, err
	}
	return peer.holder.Store(key, value), nil
}

func (network *testNetwork) Ping(ctx context.Context, address protocol.Address, publicKey *btcec.PublicKey) (*protocol.ExtendedNode, error) {
	if publicKey == nil {
		return nil, context.DeadlineExceeded
	}
	peer, ok := network.peers[protocol.PublicKey2NodeID(publicKey)]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	if _, err := network.peer(peer.node); err != nil {
		return nil, err
	}
	return peer.node, nil
}
