/*
File Name:  Client.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Client side of the requests. Network implements the dht.Transport interface.
*/

package network

import (
	"context"
	"math/rand"
	"net"

	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/btcsuite/btcd/btcec"
)

// request sends a single request via TCP and returns the response. The responder must be the peer.
func (network *Network) request(ctx context.Context, peer *protocol.ExtendedNode, command uint8, message *protocol.Message) (response *protocol.Message, responder *Incoming, err error) {
	ctx, cancel := network.withTimeout(ctx)
	defer cancel()

	sequence := rand.Uint32()
	raw, err := network.encodePacket(peer.PublicKey(), command, sequence, message)
	if err != nil {
		return nil, nil, err
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", peer.Address().TCP())
	if err != nil {
		return nil, nil, Error.Wrap(err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err = writeFrame(conn, raw); err != nil {
		return nil, nil, Error.Wrap(err)
	}

	raw, err = readFrame(conn)
	if err != nil {
		return nil, nil, Error.Wrap(err)
	}

	packet, response, responder, err := network.decodePacket(raw, network.publicKey, conn.RemoteAddr())
	if err != nil {
		return nil, nil, err
	} else if packet.Command != protocol.CommandResponse || packet.Sequence != sequence {
		return nil, nil, protocol.ErrPacket.New("unexpected response")
	} else if !responder.Node.PublicKey.IsEqual(peer.PublicKey()) {
		return nil, nil, protocol.ErrPacket.New("responder mismatch")
	}

	network.handler.HandleSender(responder)

	return response, responder, nil
}

// FindNode asks the peer for the nodes closest to the target. Nodes without token are skipped.
func (network *Network) FindNode(ctx context.Context, peer *protocol.ExtendedNode, target protocol.ID) (closest []*protocol.ExtendedNode, err error) {
	message := network.newMessage()
	message.Target = target.Bytes()

	response, _, err := network.request(ctx, peer, protocol.CommandFindNode, message)
	if err != nil {
		return nil, err
	}

	for n := range response.Nodes {
		if _, extended, err := response.Nodes[n].Decode(); err == nil && extended != nil {
			closest = append(closest, extended)
		}
	}

	return closest, nil
}

// FindValue asks the peer for the values stored under the key.
func (network *Network) FindValue(ctx context.Context, peer *protocol.ExtendedNode, key protocol.Key) (responder *protocol.ExtendedNode, values []protocol.Value, err error) {
	message := network.newMessage()
	message.Key = protocol.KeyToWire(key)

	response, sender, err := network.request(ctx, peer, protocol.CommandFindValue, message)
	if err != nil {
		return nil, nil, err
	} else if sender.Extended == nil {
		return nil, nil, Error.New("responder holds no token")
	}

	for _, value := range response.Values {
		values = append(values, value.Decode())
	}

	return sender.Extended, values, nil
}

// Store asks the peer to store the value.
func (network *Network) Store(ctx context.Context, peer *protocol.ExtendedNode, key protocol.Key, value protocol.Value) (accepted bool, err error) {
	message := network.newMessage()
	message.Key = protocol.KeyToWire(key)
	wireValue := protocol.ValueToWire(value)
	message.Value = &wireValue

	response, _, err := network.request(ctx, peer, protocol.CommandStore, message)
	if err != nil {
		return false, err
	}

	return response.Accepted, nil
}

// Ping sends a ping via UDP and waits for the pong. If the public key is nil, the ping is encrypted with the discovery key.
// The responder must hold a token.
func (network *Network) Ping(ctx context.Context, address protocol.Address, publicKey *btcec.PublicKey) (responder *protocol.ExtendedNode, err error) {
	sender, err := network.PingNode(ctx, address, publicKey)
	if err != nil {
		return nil, err
	} else if sender.Extended == nil {
		return nil, Error.New("responder holds no token")
	}
	return sender.Extended, nil
}

// PingNode sends a ping via UDP and returns the responder, which may not hold a token.
func (network *Network) PingNode(ctx context.Context, address protocol.Address, publicKey *btcec.PublicKey) (sender *Incoming, err error) {
	ctx, cancel := network.withTimeout(ctx)
	defer cancel()

	target, err := net.ResolveUDPAddr("udp", address.UDP())
	if err != nil {
		return nil, Error.Wrap(err)
	}

	waiter := make(chan *Incoming, 1)
	sequence := network.sequences.NewSequence(publicKey, waiter)

	raw, err := network.encodePacket(publicKey, protocol.CommandPing, sequence.SequenceNumber, network.newMessage())
	if err != nil {
		network.sequences.InvalidateSequence(publicKey, sequence.SequenceNumber)
		return nil, err
	}

	if _, err = network.udp.WriteToUDP(raw, target); err != nil {
		network.sequences.InvalidateSequence(publicKey, sequence.SequenceNumber)
		return nil, Error.Wrap(err)
	}

	select {
	case sender = <-waiter:
		if publicKey != nil && !sender.Node.PublicKey.IsEqual(publicKey) {
			return nil, protocol.ErrPacket.New("responder mismatch")
		}
		return sender, nil
	case <-ctx.Done():
		network.sequences.InvalidateSequence(publicKey, sequence.SequenceNumber)
		return nil, Error.Wrap(ctx.Err())
	}
}
