/*
File Name:  Packet Encoding.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Basic packet structure of ALL packets:
Offset  Size   Info
0       4      Nonce
4       1      Protocol version = 0
5       1      Command
6       4      Sequence
10      4      Size of payload data
14      ?      Payload
        ?      Randomized garbage
?       65     Signature, ECDSA secp256k1 512-bit + 1 header byte

The public key of the sender can be extracted from the ECDSA signature.
The signature is applied on the entire packet, which guarantees that the signature becomes invalid should someone try to forge the receiver (i.e. forward the packet).
Because the signature could be a possible fingerprint, it is encrypted itself.
Packets to unknown receivers (discovery) are encrypted using the well-known discovery key instead of the receiver's public key.
*/

package protocol

import (
	"encoding/binary"
	"encoding/hex"
	"math/rand"

	"github.com/btcsuite/btcd/btcec"
	"github.com/zeebo/errs"
	"golang.org/x/crypto/salsa20"
)

// ProtocolVersion is the current protocol version
const ProtocolVersion = 0

// Commands between peers
const (
	CommandPing      = 0 // Liveness check and discovery.
	CommandPong      = 1 // Response to ping.
	CommandFindNode  = 2 // Request the closest nodes to a target.
	CommandFindValue = 3 // Request the values stored for a key.
	CommandStore     = 4 // Request to store a key/value.
	CommandResponse  = 5 // Response to find node, find value and store.
)

// PacketRaw is a decrypted P2P message
type PacketRaw struct {
	Protocol uint8  // Protocol version = 0
	Command  uint8  // See CommandX
	Sequence uint32 // Sequence number
	Payload  []byte // Payload
}

// ErrPacket is the error class for packets that cannot be decoded
var ErrPacket = errs.Class("invalid packet")

const packetHeaderSize = 14
const signatureSize = 65

// PacketLengthMin is the minimum packet size: header + signature.
const PacketLengthMin = packetHeaderSize + signatureSize

// MaxPacketSize limits the size of packets sent via TCP.
const MaxPacketSize = 4 * 1024 * 1024

// UDPMaxPacketSize is the maximum size of a single UDP packet: 65535 - 8 UDP byte header - 20 byte IP header.
const UDPMaxPacketSize = 65507

const maxRandomGarbage = 20
const internetSafeMTU = 1280

// DiscoveryPublicKey is the well-known key used to encrypt packets to receivers with unknown public key.
// It is derived from a hard-coded private key, used for local discovery and for contacting peers with unknown public key.
var DiscoveryPublicKey *btcec.PublicKey

const discoveryPrivateKeyH = "5e27ecc8e54a24e71dca9ba84a9bf465400e27b8c46a977d34962d3d88558c8e"

func init() {
	if raw, err := hex.DecodeString(discoveryPrivateKeyH); err == nil {
		_, DiscoveryPublicKey = btcec.PrivKeyFromBytes(btcec.S256(), raw)
	}
}

// PacketDecrypt decrypts the packet, verifies its signature and returns a high-level version of the packet.
func PacketDecrypt(raw []byte, receiverPublicKey *btcec.PublicKey) (packet *PacketRaw, senderPublicKey *btcec.PublicKey, err error) {
	if len(raw) < PacketLengthMin {
		return nil, nil, ErrPacket.New("packet too small")
	}

	// Prepare Salsa20 nonce and key. Nonce = 2x first 4 bytes. For size reasons, only 4 bytes (instead of 8 bytes) is supplied in the packet.
	// This could be a risk, but considering we only use the PUBLIC key as decryption key, it is negligible.
	nonce := make([]byte, 8)
	copy(nonce[0:4], raw[0:4])
	copy(nonce[4:8], raw[0:4])

	// Verify the signature and extract the public key from it.
	var signature [signatureSize]byte
	copy(signature[:], raw[len(raw)-signatureSize:])
	keySalsa := publicKeyToSalsa20Key(receiverPublicKey)
	salsa20.XORKeyStream(signature[:], signature[:], nonce, keySalsa)

	senderPublicKey, _, err = btcec.RecoverCompact(btcec.S256(), signature[:], HashData(raw[:len(raw)-signatureSize]))
	if err != nil {
		return nil, nil, ErrPacket.Wrap(err)
	}

	// Decrypt the packet using Salsa20.
	bufferDecrypted := make([]byte, len(raw)-signatureSize-4) // full length -signature -nonce
	salsa20.XORKeyStream(bufferDecrypted[:], raw[4:len(raw)-signatureSize], nonce, keySalsa)

	// copy all fields
	packet = &PacketRaw{Protocol: bufferDecrypted[0], Command: bufferDecrypted[1]}
	packet.Sequence = binary.LittleEndian.Uint32(bufferDecrypted[2:6])

	if packet.Protocol != ProtocolVersion {
		return nil, nil, ErrPacket.New("unsupported protocol version %d", packet.Protocol)
	}

	sizePayload := binary.LittleEndian.Uint32(bufferDecrypted[6:10])
	if uint64(sizePayload) > uint64(len(bufferDecrypted)-10) { // invalid length?
		return nil, nil, ErrPacket.New("invalid length field")
	}
	if sizePayload > 0 {
		packet.Payload = make([]byte, int(sizePayload))
		copy(packet.Payload, bufferDecrypted[10:10+int(sizePayload)])
	}

	return packet, senderPublicKey, nil
}

// PacketEncrypt encrypts a packet using the provided senders private key and receivers compressed public key.
// If the receiver public key is nil, the discovery key is used.
func PacketEncrypt(senderPrivateKey *btcec.PrivateKey, receiverPublicKey *btcec.PublicKey, packet *PacketRaw) (raw []byte, err error) {
	if receiverPublicKey == nil {
		receiverPublicKey = DiscoveryPublicKey
	}

	garbage := packetGarbage(PacketLengthMin + len(packet.Payload))
	raw = make([]byte, PacketLengthMin+len(packet.Payload)+len(garbage))

	nonceC := rand.Uint32()
	nonce := make([]byte, 8)
	binary.LittleEndian.PutUint32(nonce[0:4], nonceC)
	binary.LittleEndian.PutUint32(nonce[4:8], nonceC)
	copy(raw[0:4], nonce[0:4])

	raw[4] = packet.Protocol
	raw[5] = packet.Command

	binary.LittleEndian.PutUint32(raw[6:10], packet.Sequence)
	binary.LittleEndian.PutUint32(raw[10:14], uint32(len(packet.Payload)))
	copy(raw[packetHeaderSize:], packet.Payload)
	copy(raw[packetHeaderSize+len(packet.Payload):packetHeaderSize+len(packet.Payload)+len(garbage)], garbage)

	// encrypt it using Salsa20
	end := packetHeaderSize + len(packet.Payload) + len(garbage)
	keySalsa := publicKeyToSalsa20Key(receiverPublicKey)
	salsa20.XORKeyStream(raw[4:end], raw[4:end], nonce, keySalsa)

	// add signature
	signature, err := btcec.SignCompact(btcec.S256(), senderPrivateKey, HashData(raw[:len(raw)-signatureSize]), true)
	if err != nil {
		return nil, err
	} else if len(signature) != signatureSize {
		return nil, ErrPacket.New("signature length invalid")
	}

	salsa20.XORKeyStream(signature[:], signature[:], nonce, keySalsa)
	copy(raw[len(raw)-signatureSize:], signature)

	return raw, nil
}

func packetGarbage(packetLength int) (random []byte) {
	// Align maximum length at 508 bytes (UDP minimum no fragmentation) and at a relatively safe MTU.
	maxLength := maxRandomGarbage
	switch {
	case packetLength == 508, packetLength == internetSafeMTU:
		return nil
	case packetLength < 508 && (508-packetLength) < maxRandomGarbage:
		maxLength = 508 - packetLength
	case packetLength < internetSafeMTU && (internetSafeMTU-packetLength) < maxRandomGarbage:
		maxLength = internetSafeMTU - packetLength
	}

	b := make([]byte, rand.Intn(maxLength))
	if _, err := rand.Read(b); err != nil {
		return nil
	}
	return b
}

func publicKeyToSalsa20Key(publicKey *btcec.PublicKey) (key *[32]byte) {
	// bit 0 from PublicKey.Y is ignored here, but is negligible for this purpose
	key = new([32]byte)
	copy(key[:], publicKey.SerializeCompressed()[1:])
	return key
}
