package network

import (
	"bytes"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/btcsuite/btcd/btcec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHandler stores values in memory and returns a fixed list of nodes
type testHandler struct {
	self    *protocol.ExtendedNode
	nodes   []*protocol.ExtendedNode
	values  map[protocol.ID][]protocol.Value
	senders atomic.Int32
	sync.Mutex
}

func (handler *testHandler) Self() *protocol.ExtendedNode {
	return handler.self
}

func (handler *testHandler) HandleSender(sender *Incoming) {
	handler.senders.Add(1)
}

func (handler *testHandler) HandleFindNode(sender *Incoming, target protocol.ID) []*protocol.ExtendedNode {
	return handler.nodes
}

func (handler *testHandler) HandleFindValue(sender *Incoming, key protocol.Key) []protocol.Value {
	handler.Lock()
	defer handler.Unlock()
	return handler.values[key.ID]
}

func (handler *testHandler) HandleStore(sender *Incoming, key protocol.Key, value protocol.Value) bool {
	handler.Lock()
	defer handler.Unlock()
	handler.values[key.ID] = append(handler.values[key.ID], value)
	return true
}

func newTestExtended(t *testing.T, publicKey *btcec.PublicKey, address protocol.Address) *protocol.ExtendedNode {
	node := protocol.NewNode(publicKey, address)
	extended, err := protocol.NewExtendedNode(node, protocol.Token{ID: node.ID, Nonce: 7, SeedBlockNumber: 1, PublicKey: publicKey}, 2)
	require.NoError(t, err)
	return extended
}

// newTestNetwork starts a network on loopback. The local node holds a token.
func newTestNetwork(t *testing.T, name string) (*Network, *testHandler) {
	privateKey, err := btcec.NewPrivateKey(btcec.S256())
	require.NoError(t, err)

	handler := &testHandler{values: make(map[protocol.ID][]protocol.Value)}
	network, err := New(privateKey, handler, Config{Listen: "127.0.0.1", NetworkName: name, RequestTimeout: 500 * time.Millisecond})
	require.NoError(t, err)

	handler.self = newTestExtended(t, privateKey.PubKey(), network.Address())
	network.Start()
	t.Cleanup(network.Close)

	return network, handler
}

func TestNetworkRequests(t *testing.T) {
	client, _ := newTestNetwork(t, "test")
	server, serverHandler := newTestNetwork(t, "test")
	peer := serverHandler.self

	otherKey, err := btcec.NewPrivateKey(btcec.S256())
	require.NoError(t, err)
	other := newTestExtended(t, otherKey.PubKey(), protocol.Address{Host: "10.0.0.1", UDPPort: 5, TCPPort: 6})
	serverHandler.nodes = []*protocol.ExtendedNode{other}

	closest, err := client.FindNode(context.Background(), peer, other.ID())
	require.NoError(t, err)
	require.Len(t, closest, 1)
	assert.True(t, closest[0].Equal(other))

	key := protocol.NewKey("key", protocol.NewSeedHasher([]byte("seed")))
	value := protocol.Value{Data: []byte("value"), Annotation: "a"}

	accepted, err := client.Store(context.Background(), peer, key, value)
	require.NoError(t, err)
	assert.True(t, accepted)

	responder, values, err := client.FindValue(context.Background(), peer, key)
	require.NoError(t, err)
	assert.Equal(t, peer.ID(), responder.ID())
	assert.Equal(t, []protocol.Value{value}, values)

	assert.Greater(t, serverHandler.senders.Load(), int32(0))

	// requests to a node with a different key fail
	wrongPeer := newTestExtended(t, otherKey.PubKey(), server.Address())
	_, err = client.FindNode(context.Background(), wrongPeer, other.ID())
	assert.Error(t, err)
}

func TestNetworkPing(t *testing.T) {
	client, _ := newTestNetwork(t, "test")
	_, serverHandler := newTestNetwork(t, "test")
	peer := serverHandler.self

	responder, err := client.Ping(context.Background(), peer.Address(), peer.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, peer.ID(), responder.ID())

	// unknown public key: the ping is encrypted with the discovery key
	responder, err = client.Ping(context.Background(), peer.Address(), nil)
	require.NoError(t, err)
	assert.Equal(t, peer.ID(), responder.ID())
}

func TestNetworkNameMismatch(t *testing.T) {
	client, _ := newTestNetwork(t, "network 1")
	_, serverHandler := newTestNetwork(t, "network 2")
	peer := serverHandler.self

	_, err := client.FindNode(context.Background(), peer, peer.ID())
	assert.Error(t, err)

	_, err = client.Ping(context.Background(), peer.Address(), peer.PublicKey())
	assert.Error(t, err)
	assert.Equal(t, int32(0), serverHandler.senders.Load())
}

func TestNetworkClosed(t *testing.T) {
	client, _ := newTestNetwork(t, "test")
	server, serverHandler := newTestNetwork(t, "test")
	peer := serverHandler.self
	server.Close()
	server.Close()

	_, err := client.FindNode(context.Background(), peer, peer.ID())
	assert.Error(t, err)

	_, err = client.Ping(context.Background(), peer.Address(), peer.PublicKey())
	assert.True(t, Error.Has(err))
}

func TestFrames(t *testing.T) {
	var buffer bytes.Buffer
	raw := bytes.Repeat([]byte{1}, protocol.PacketLengthMin)
	require.NoError(t, writeFrame(&buffer, raw))

	decoded, err := readFrame(&buffer)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)

	_, err = readFrame(bytes.NewReader([]byte{1, 0, 0, 0, 1}))
	assert.True(t, protocol.ErrPacket.Has(err))
}

func TestDiscoveryTargets(t *testing.T) {
	targets := discoveryTargets(12912)
	require.GreaterOrEqual(t, len(targets), 2)
	assert.True(t, targets[0].IP.Equal(net.IPv4bcast))
	assert.Equal(t, ipv6MulticastGroup, targets[len(targets)-1].IP.String())
}
