/*
File Name:  Server.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package network

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/btcsuite/btcd/btcec"
)

// listenUDP handles incoming pings and pongs
func (network *Network) listenUDP() {
	defer network.wg.Done()

	for {
		// Buffer: Must be created for each packet as it is passed on.
		buffer := make([]byte, protocol.UDPMaxPacketSize)
		length, sender, err := network.udp.ReadFromUDP(buffer)

		if err != nil {
			// Exit on closed socket. Error will be "use of closed network connection".
			if network.isClosed() {
				return
			}

			network.LogError("Network.listenUDP", "receiving UDP message: %v\n", err)
			time.Sleep(time.Millisecond * 50) // In case of endless errors, prevent ddos of CPU.
			continue
		}

		if length < protocol.PacketLengthMin {
			continue
		}

		network.handleUDP(buffer[:length], sender, network.publicKey, protocol.DiscoveryPublicKey)
	}
}

// handleUDP decrypts the packet with the first receiver key that works and processes it.
func (network *Network) handleUDP(raw []byte, observed *net.UDPAddr, receivers ...*btcec.PublicKey) {
	var packet *protocol.PacketRaw
	var sender *Incoming
	var err error

	for _, receiver := range receivers {
		if packet, _, sender, err = network.decodePacket(raw, receiver, observed); err == nil {
			break
		}
	}
	if err != nil || network.isSelf(sender) {
		return
	}

	network.handler.HandleSender(sender)

	switch packet.Command {
	case protocol.CommandPing:
		raw, err := network.encodePacket(sender.Node.PublicKey, protocol.CommandPong, packet.Sequence, network.newMessage())
		if err != nil {
			network.LogError("Network.handleUDP", "encoding pong: %v\n", err)
			return
		}
		if _, err := network.udp.WriteToUDP(raw, observed); err != nil {
			network.LogError("Network.handleUDP", "sending pong to %s: %v\n", observed.String(), err)
		}

	case protocol.CommandPong:
		info, valid, _ := network.sequences.ValidateSequence(sender.Node.PublicKey, packet.Sequence)
		if !valid {
			return
		}
		if waiter, ok := info.Data.(chan *Incoming); ok {
			select {
			case waiter <- sender:
			default:
			}
		}
	}
}

// listenTCP accepts request connections
func (network *Network) listenTCP() {
	defer network.wg.Done()

	for {
		conn, err := network.tcp.Accept()
		if err != nil {
			if network.isClosed() {
				return
			}

			network.LogError("Network.listenTCP", "accepting connection: %v\n", err)
			time.Sleep(time.Millisecond * 50)
			continue
		}

		network.wg.Add(1)
		go func() {
			defer network.wg.Done()
			defer conn.Close()
			network.serveTCP(conn)
		}()
	}
}

// serveTCP reads a single request and writes the response.
func (network *Network) serveTCP(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(network.config.RequestTimeout))

	raw, err := readFrame(conn)
	if err != nil {
		return
	}

	packet, request, sender, err := network.decodePacket(raw, network.publicKey, conn.RemoteAddr())
	if err != nil || network.isSelf(sender) {
		return
	}

	network.handler.HandleSender(sender)

	response := network.newMessage()

	switch packet.Command {
	case protocol.CommandFindNode:
		target, err := protocol.IDFromBytes(request.Target)
		if err != nil {
			return
		}
		for _, node := range network.handler.HandleFindNode(sender, target) {
			response.Nodes = append(response.Nodes, protocol.ExtendedToWire(node))
		}

	case protocol.CommandFindValue:
		if request.Key == nil {
			return
		}
		key, err := request.Key.Decode()
		if err != nil {
			return
		}
		for _, value := range network.handler.HandleFindValue(sender, key) {
			response.Values = append(response.Values, protocol.ValueToWire(value))
		}

	case protocol.CommandStore:
		if request.Key == nil || request.Value == nil {
			return
		}
		key, err := request.Key.Decode()
		if err != nil {
			return
		}
		response.Accepted = network.handler.HandleStore(sender, key, request.Value.Decode())

	default:
		return
	}

	raw, err = network.encodePacket(sender.Node.PublicKey, protocol.CommandResponse, packet.Sequence, response)
	if err != nil {
		network.LogError("Network.serveTCP", "encoding response: %v\n", err)
		return
	}

	if err := writeFrame(conn, raw); err != nil {
		network.LogError("Network.serveTCP", "sending response to %s: %v\n", conn.RemoteAddr().String(), err)
	}
}

// readFrame reads a length-prefixed packet
func readFrame(reader io.Reader) (raw []byte, err error) {
	var header [4]byte
	if _, err = io.ReadFull(reader, header[:]); err != nil {
		return nil, err
	}

	size := binary.LittleEndian.Uint32(header[:])
	if size < protocol.PacketLengthMin || size > protocol.MaxPacketSize {
		return nil, protocol.ErrPacket.New("invalid frame size %d", size)
	}

	raw = make([]byte, size)
	if _, err = io.ReadFull(reader, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// writeFrame writes a length-prefixed packet
func writeFrame(writer io.Writer, raw []byte) (err error) {
	if len(raw) > protocol.MaxPacketSize {
		return protocol.ErrPacket.New("packet too big")
	}

	frame := make([]byte, 4+len(raw))
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(raw)))
	copy(frame[4:], raw)

	_, err = writer.Write(frame)
	return err
}
