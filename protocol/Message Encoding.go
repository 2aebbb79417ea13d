/*
File Name:  Message Encoding.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Intermediary between low-level packets and high-level interpretation. The payload of every packet is a msgpack encoded Message.
The node ID is never transmitted; it is always derived from the public key.
*/

package protocol

import (
	"net"

	"github.com/btcsuite/btcd/btcec"
	"github.com/vmihailenco/msgpack/v5"
)

// Message is the decoded payload of a packet. Depending on the command only some fields are used.
type Message struct {
	Network  string      `msgpack:"n"`            // Name of the network (ledger). Messages from other networks are discarded.
	Sender   WireNode    `msgpack:"s"`            // Sender of this message
	Target   []byte      `msgpack:"t,omitempty"`  // Find node: Target ID
	Key      *WireKey    `msgpack:"k,omitempty"`  // Find value, store: Key
	Value    *WireValue  `msgpack:"v,omitempty"`  // Store: Value
	Nodes    []WireNode  `msgpack:"ns,omitempty"` // Response to find node: closest nodes
	Values   []WireValue `msgpack:"vs,omitempty"` // Response to find value: values
	Accepted bool        `msgpack:"a,omitempty"`  // Response to store: Whether stored
}

// WireNode is a node on the wire. The token is optional.
type WireNode struct {
	PublicKey  []byte `msgpack:"p"`            // Compressed public key
	Host       string `msgpack:"h,omitempty"`  // IP. Empty if self-reported and unknown.
	PortUDP    uint16 `msgpack:"u"`            // UDP port
	PortTCP    uint16 `msgpack:"c"`            // TCP port
	Token      []byte `msgpack:"tk,omitempty"` // Encoded token, empty if none
	TokenBlock int64  `msgpack:"tb,omitempty"` // Block number at which the token was recorded
}

// WireKey is a key on the wire
type WireKey struct {
	Text    string `msgpack:"x,omitempty"`
	HasText bool   `msgpack:"h,omitempty"`
	ID      []byte `msgpack:"i"`
}

// WireValue is a value on the wire
type WireValue struct {
	Data       []byte `msgpack:"d"`
	Annotation string `msgpack:"a,omitempty"`
}

// EncodeMessage encodes the message as packet payload
func EncodeMessage(message *Message) (raw []byte, err error) {
	return msgpack.Marshal(message)
}

// DecodeMessage decodes a packet payload
func DecodeMessage(raw []byte) (message *Message, err error) {
	message = &Message{}
	if err = msgpack.Unmarshal(raw, message); err != nil {
		return nil, ErrPacket.Wrap(err)
	}
	return message, nil
}

// NodeToWire translates the node into its wire form. Extended may be nil if the node holds no token.
func NodeToWire(node Node, extended *ExtendedNode) (wire WireNode) {
	wire = WireNode{
		PublicKey: node.PublicKey.SerializeCompressed(),
		Host:      node.Address.Host,
		PortUDP:   uint16(node.Address.UDPPort),
		PortTCP:   uint16(node.Address.TCPPort),
	}

	if extended != nil {
		token := extended.Token()
		wire.Token = token.Encode()
		wire.TokenBlock = extended.TokenBlockNumber()
	}

	return wire
}

// ExtendedToWire translates the extended node into its wire form
func ExtendedToWire(extended *ExtendedNode) WireNode {
	return NodeToWire(extended.Node(), extended)
}

// Decode translates the wire node into a node record. If a token is attached, the extended node is returned too.
// An attached token that does not belong to the node fails with ErrIncoherentToken.
func (wire *WireNode) Decode() (node Node, extended *ExtendedNode, err error) {
	publicKey, err := btcec.ParsePubKey(wire.PublicKey, btcec.S256())
	if err != nil {
		return node, nil, ErrPacket.Wrap(err)
	}

	address, err := NewAddress(wire.Host, int(wire.PortUDP), int(wire.PortTCP))
	if err != nil {
		return node, nil, err
	}

	node = NewNode(publicKey, address)

	if len(wire.Token) == 0 {
		return node, nil, nil
	}

	token, err := DecodeToken(wire.Token)
	if err != nil {
		return node, nil, err
	}

	extended, err = NewExtendedNode(node, *token, wire.TokenBlock)
	return node, extended, err
}

// WithObservedHost replaces an unknown or unspecified self-reported host with the observed one.
func (wire WireNode) WithObservedHost(observed net.IP) WireNode {
	if observed == nil {
		return wire
	}
	if ip := net.ParseIP(wire.Host); wire.Host == "" || ip == nil || ip.IsUnspecified() {
		wire.Host = observed.String()
	}
	return wire
}

// KeyToWire translates the key into its wire form
func KeyToWire(key Key) *WireKey {
	return &WireKey{Text: key.Text, HasText: key.HasText, ID: key.ID.Bytes()}
}

// Decode translates the wire key
func (wire *WireKey) Decode() (key Key, err error) {
	id, err := IDFromBytes(wire.ID)
	if err != nil {
		return key, err
	}
	return Key{Text: wire.Text, HasText: wire.HasText, ID: id}, nil
}

// ValueToWire translates the value into its wire form
func ValueToWire(value Value) WireValue {
	return WireValue{Data: value.Data, Annotation: value.Annotation}
}

// Decode translates the wire value
func (wire WireValue) Decode() Value {
	return Value{Data: wire.Data, Annotation: wire.Annotation}
}
