package protocol

import (
	"math/big"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKey(t *testing.T) (*btcec.PrivateKey, *btcec.PublicKey) {
	privateKey, err := btcec.NewPrivateKey(btcec.S256())
	require.NoError(t, err)
	return privateKey, privateKey.PubKey()
}

func TestIDDistance(t *testing.T) {
	var target, a, b ID
	a[0] = 0x01
	b[0] = 0x02

	assert.True(t, IsCloser(target, a, b))
	assert.False(t, IsCloser(target, b, a))
	assert.Equal(t, 0, CompareDistance(target, a, a))
	assert.Equal(t, 0, a.Distance(b).Cmp(new(big.Int).Lsh(big.NewInt(3), 248)))

	assert.Equal(t, 0, a.Bit(0))
	assert.Equal(t, 1, a.Bit(7))
	assert.Equal(t, 1, b.Bit(6))
}

func TestIDAnd(t *testing.T) {
	id := ID{0xff, 0xff, 0xff}
	masked := id.And([]byte{0xf0})

	assert.Equal(t, byte(0xf0), masked[0])
	assert.Equal(t, byte(0xff), masked[1], "bytes beyond the mask remain unchanged")
}

func TestDifficulty(t *testing.T) {
	hasher := NewSeedHasher([]byte("seed"))
	id := hasher.SumID([]byte("node"))

	assert.Equal(t, []byte{0xff, 0xc0}, NewDifficulty(10).Target())
	assert.True(t, NewDifficulty(0).IsValid(id, 1, hasher))

	difficulty := NewDifficulty(8)
	found := false
	for nonce := int64(0); nonce < 10000; nonce++ {
		if difficulty.IsValid(id, nonce, hasher) {
			hash := hasher.Sum(ProofInput(id, nonce))
			assert.Equal(t, byte(0), hash[0])
			found = true
			break
		}
	}
	assert.True(t, found)
}

func TestSeedHasher(t *testing.T) {
	a := NewSeedHasher([]byte("seed 1"))
	b := NewSeedHasher([]byte("seed 2"))

	assert.Equal(t, a.SumID([]byte("x")), NewSeedHasher([]byte("seed 1")).SumID([]byte("x")))
	assert.NotEqual(t, a.SumID([]byte("x")), b.SumID([]byte("x")))

	key := NewKey("hello", a)
	assert.True(t, key.IsValidFor(a))
	assert.False(t, key.IsValidFor(b))
	assert.False(t, KeyFromID(key.ID).IsValidFor(a))
}

func TestExtendedNodeCoherence(t *testing.T) {
	_, publicKey := newTestKey(t)
	_, otherKey := newTestKey(t)

	node := NewNode(publicKey, Address{Host: "127.0.0.1", UDPPort: 1, TCPPort: 2})

	_, err := NewExtendedNode(node, Token{ID: node.ID, PublicKey: publicKey}, 5)
	require.NoError(t, err)

	_, err = NewExtendedNode(node, Token{ID: PublicKey2NodeID(otherKey), PublicKey: otherKey}, 5)
	assert.True(t, ErrIncoherentToken.Has(err))

	_, err = NewExtendedNode(node, Token{ID: node.ID, PublicKey: otherKey}, 5)
	assert.True(t, ErrIncoherentToken.Has(err))
}

func TestTokenEncoding(t *testing.T) {
	_, publicKey := newTestKey(t)
	token := Token{ID: PublicKey2NodeID(publicKey), Nonce: -42, SeedBlockNumber: 100, PublicKey: publicKey}

	decoded, err := DecodeToken(token.Encode())
	require.NoError(t, err)
	assert.True(t, token.Equal(decoded))
	assert.Equal(t, token.Hash(), decoded.Hash())

	_, err = DecodeToken([]byte{1, 2, 3})
	assert.True(t, ErrToken.Has(err))
}

func TestPacketEncryption(t *testing.T) {
	senderPrivate, senderPublic := newTestKey(t)
	_, receiverPublic := newTestKey(t)

	packet := &PacketRaw{Protocol: ProtocolVersion, Command: CommandFindNode, Sequence: 77, Payload: []byte("payload")}

	raw, err := PacketEncrypt(senderPrivate, receiverPublic, packet)
	require.NoError(t, err)

	decoded, sender, err := PacketDecrypt(raw, receiverPublic)
	require.NoError(t, err)
	assert.True(t, sender.IsEqual(senderPublic))
	assert.Equal(t, packet.Command, decoded.Command)
	assert.Equal(t, packet.Sequence, decoded.Sequence)
	assert.Equal(t, packet.Payload, decoded.Payload)

	// Discovery packets are encrypted with the well-known key.
	raw, err = PacketEncrypt(senderPrivate, nil, packet)
	require.NoError(t, err)
	_, sender, err = PacketDecrypt(raw, DiscoveryPublicKey)
	require.NoError(t, err)
	assert.True(t, sender.IsEqual(senderPublic))

	_, _, err = PacketDecrypt(raw[:10], DiscoveryPublicKey)
	assert.True(t, ErrPacket.Has(err))
}

func TestMessageNodes(t *testing.T) {
	_, publicKey := newTestKey(t)
	node := NewNode(publicKey, Address{Host: "10.0.0.1", UDPPort: 4000, TCPPort: 4001})
	extended, err := NewExtendedNode(node, Token{ID: node.ID, Nonce: 9, SeedBlockNumber: 20, PublicKey: publicKey}, 21)
	require.NoError(t, err)

	message := &Message{
		Network: "test",
		Sender:  NodeToWire(node, nil),
		Nodes:   []WireNode{ExtendedToWire(extended)},
		Key:     KeyToWire(KeyFromID(node.ID)),
	}

	raw, err := EncodeMessage(message)
	require.NoError(t, err)
	decoded, err := DecodeMessage(raw)
	require.NoError(t, err)

	sender, senderExtended, err := decoded.Sender.Decode()
	require.NoError(t, err)
	assert.Nil(t, senderExtended)
	assert.True(t, sender.Equal(node))

	require.Len(t, decoded.Nodes, 1)
	_, decodedExtended, err := decoded.Nodes[0].Decode()
	require.NoError(t, err)
	assert.True(t, decodedExtended.Equal(extended))

	key, err := decoded.Key.Decode()
	require.NoError(t, err)
	assert.Equal(t, node.ID, key.ID)
}

func TestObservedHost(t *testing.T) {
	wire := WireNode{Host: "0.0.0.0"}
	assert.Equal(t, "192.168.1.5", wire.WithObservedHost([]byte{192, 168, 1, 5}).Host)

	wire.Host = "10.1.1.1"
	assert.Equal(t, "10.1.1.1", wire.WithObservedHost([]byte{192, 168, 1, 5}).Host)
}

func TestSequence(t *testing.T) {
	_, publicKey := newTestKey(t)
	manager := NewSequenceManager(time.Second)
	defer manager.Close()

	info := manager.NewSequence(publicKey, "data")
	sequence, valid, _ := manager.ValidateSequence(publicKey, info.SequenceNumber)
	assert.True(t, valid)
	assert.Equal(t, "data", sequence.Data)

	// replay is rejected
	_, valid, _ = manager.ValidateSequence(publicKey, info.SequenceNumber)
	assert.False(t, valid)

	// arbitrary sequences match any sender
	info = manager.NewSequence(nil, nil)
	_, valid, _ = manager.ValidateSequence(publicKey, info.SequenceNumber)
	assert.True(t, valid)
}
