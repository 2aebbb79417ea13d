/*
File Name:  Network.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The network serves two sockets:
* UDP for ping/pong. Pongs are mapped to pings via message sequences.
* TCP for request/reply of find node, find value and store. Each connection carries one request frame and one response frame.

Frames on TCP are the packet prefixed by its length as 32-bit unsigned integer little endian.
Every packet is signed by the sender. The sender reported inside the message must match the signing key, and the network name must match.
*/

package network

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/btcsuite/btcd/btcec"
	"github.com/zeebo/errs"
)

// Error is the error class for network failures
var Error = errs.Class("network")

// Config contains the network settings
type Config struct {
	Listen          string        // IP to listen on. Empty for all.
	PortUDP         int           // UDP port. 0 for random.
	PortTCP         int           // TCP port. 0 for random.
	DiscoveryPort   int           // Port for IPv4 broadcast and IPv6 multicast discovery
	NetworkName     string        // Messages from other networks are discarded.
	RequestTimeout  time.Duration // Timeout for a single request
	EnableDiscovery bool          // Whether to listen for discovery packets
}

// Incoming is the authenticated sender of a message
type Incoming struct {
	Node     protocol.Node          // Sender. The host is the observed one if not reported.
	Extended *protocol.ExtendedNode // Sender with token. Nil if the sender holds no token.
	Observed net.Addr               // Remote address of the packet
}

// Handler processes incoming messages.
type Handler interface {
	// Self returns the local node with its token. Nil if the local node has no token yet.
	Self() *protocol.ExtendedNode

	// HandleSender is called for every authenticated incoming message.
	HandleSender(sender *Incoming)

	// HandleFindNode returns the nodes closest to the target.
	HandleFindNode(sender *Incoming, target protocol.ID) []*protocol.ExtendedNode

	// HandleFindValue returns the values stored under the key.
	HandleFindValue(sender *Incoming, key protocol.Key) []protocol.Value

	// HandleStore stores the value. It returns whether it was accepted.
	HandleStore(sender *Incoming, key protocol.Key, value protocol.Value) bool
}

// Network is the connection of the local node to the peers
type Network struct {
	config     Config
	privateKey *btcec.PrivateKey
	publicKey  *btcec.PublicKey
	handler    Handler
	address    protocol.Address // Listening address with actual ports

	udp       *net.UDPConn
	tcp       net.Listener
	discovery []net.PacketConn // IPv4 broadcast and IPv6 multicast listeners
	sequences *protocol.SequenceManager

	// LogError is called for errors. It must be set before Start.
	LogError func(function, format string, v ...interface{})

	closeReq  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New opens the sockets. Use Start to start processing incoming packets.
func New(privateKey *btcec.PrivateKey, handler Handler, config Config) (network *Network, err error) {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 2 * time.Second
	}

	network = &Network{
		config:     config,
		privateKey: privateKey,
		publicKey:  privateKey.PubKey(),
		handler:    handler,
		sequences:  protocol.NewSequenceManager(config.RequestTimeout),
		LogError:   func(function, format string, v ...interface{}) {},
		closeReq:   make(chan struct{}),
	}

	ip := net.ParseIP(config.Listen)
	if config.Listen != "" && ip == nil {
		return nil, Error.New("invalid listen IP '%s'", config.Listen)
	}

	if network.udp, err = net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: config.PortUDP}); err != nil {
		network.sequences.Close()
		return nil, Error.Wrap(err)
	}

	if network.tcp, err = net.Listen("tcp", net.JoinHostPort(config.Listen, strconv.Itoa(config.PortTCP))); err != nil {
		network.udp.Close()
		network.sequences.Close()
		return nil, Error.Wrap(err)
	}

	host := ""
	if ip != nil && !ip.IsUnspecified() {
		host = ip.String()
	}
	network.address = protocol.Address{
		Host:    host,
		UDPPort: network.udp.LocalAddr().(*net.UDPAddr).Port,
		TCPPort: network.tcp.Addr().(*net.TCPAddr).Port,
	}

	if config.EnableDiscovery {
		network.listenDiscovery()
	}

	return network, nil
}

// Address returns the listening address with the actual ports. The host is empty if listening on all IPs.
func (network *Network) Address() protocol.Address {
	return network.address
}

// PublicKey returns the public key of the local node
func (network *Network) PublicKey() *btcec.PublicKey {
	return network.publicKey
}

// Start starts the listeners. They run until Close is called.
func (network *Network) Start() {
	network.wg.Add(2)
	go network.listenUDP()
	go network.listenTCP()

	for _, socket := range network.discovery {
		network.wg.Add(1)
		go network.listenDiscoveryPackets(socket)
	}
}

// Close closes all sockets and waits for the listeners to exit. It is safe to call multiple times.
func (network *Network) Close() {
	network.closeOnce.Do(func() {
		close(network.closeReq)
		network.udp.Close()
		network.tcp.Close()
		for _, socket := range network.discovery {
			socket.Close()
		}
		network.sequences.Close()
		network.wg.Wait()
	})
}

func (network *Network) isClosed() bool {
	select {
	case <-network.closeReq:
		return true
	default:
		return false
	}
}

// selfWire returns the local node in wire form. The token is attached if available.
func (network *Network) selfWire() protocol.WireNode {
	if self := network.handler.Self(); self != nil {
		return protocol.ExtendedToWire(self)
	}
	return protocol.NodeToWire(protocol.NewNode(network.publicKey, network.address), nil)
}

// newMessage creates a message with the network name and the local node as sender
func (network *Network) newMessage() *protocol.Message {
	return &protocol.Message{Network: network.config.NetworkName, Sender: network.selfWire()}
}

// encodePacket encodes and encrypts the message for the receiver. A nil receiver uses the discovery key.
func (network *Network) encodePacket(receiver *btcec.PublicKey, command uint8, sequence uint32, message *protocol.Message) (raw []byte, err error) {
	payload, err := protocol.EncodeMessage(message)
	if err != nil {
		return nil, err
	}

	return protocol.PacketEncrypt(network.privateKey, receiver, &protocol.PacketRaw{Protocol: protocol.ProtocolVersion, Command: command, Sequence: sequence, Payload: payload})
}

// decodePacket decrypts the packet with the receiver key and authenticates the message.
// The sender reported in the message must match the signing key, and the network name must match.
func (network *Network) decodePacket(raw []byte, receiver *btcec.PublicKey, observed net.Addr) (packet *protocol.PacketRaw, message *protocol.Message, sender *Incoming, err error) {
	packet, senderPublicKey, err := protocol.PacketDecrypt(raw, receiver)
	if err != nil {
		return nil, nil, nil, err
	}

	if message, err = protocol.DecodeMessage(packet.Payload); err != nil {
		return nil, nil, nil, err
	}

	if message.Network != network.config.NetworkName {
		return nil, nil, nil, protocol.ErrPacket.New("network '%s' mismatch", message.Network)
	}

	wire := message.Sender.WithObservedHost(observedIP(observed))
	node, extended, err := wire.Decode()
	if err != nil && !protocol.ErrIncoherentToken.Has(err) {
		return nil, nil, nil, err
	} else if !node.PublicKey.IsEqual(senderPublicKey) {
		return nil, nil, nil, protocol.ErrPacket.New("sender key mismatch")
	}

	// An incoherent token is dropped, the sender itself is authenticated.
	if err != nil {
		extended = nil
	}

	return packet, message, &Incoming{Node: node, Extended: extended, Observed: observed}, nil
}

func observedIP(address net.Addr) net.IP {
	switch a := address.(type) {
	case *net.UDPAddr:
		return a.IP
	case *net.TCPAddr:
		return a.IP
	}
	return nil
}

// isSelf checks if the packet was sent by the local node, for example looped back multicast
func (network *Network) isSelf(sender *Incoming) bool {
	return sender.Node.PublicKey.IsEqual(network.publicKey)
}

// Discover sends a discovery ping via IPv4 broadcast and IPv6 multicast. Responders are reported via HandleSender.
func (network *Network) Discover() {
	if network.config.DiscoveryPort == 0 {
		return
	}

	sequence := network.sequences.NewSequence(nil, nil)
	raw, err := network.encodePacket(nil, protocol.CommandPing, sequence.SequenceNumber, network.newMessage())
	if err != nil {
		network.LogError("Network.Discover", "encoding packet: %v\n", err)
		return
	}

	for _, target := range discoveryTargets(network.config.DiscoveryPort) {
		if _, err := network.udp.WriteTo(raw, target); err != nil {
			network.LogError("Network.Discover", "sending to %s: %v\n", target.String(), err)
		}
	}
}

// withTimeout returns the context bounded by the request timeout
func (network *Network) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, network.config.RequestTimeout)
}
