/*
File Name:  Discovery.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Discovery of peers in the local network via IPv4 broadcast and IPv6 multicast. Discovery pings are encrypted with the well-known discovery key
since the receivers are unknown. The listeners open the discovery port with SO_REUSEADDR so that multiple processes on the same computer receive them.
Pongs are sent from the main UDP socket, which makes the responder known to the sender.

IPv4 multicast is not used since a socket bound to 0.0.0.0 cannot reliably send to it; broadcast is used instead.
The IPv6 multicast group is site-local. Loopback is enabled to connect local processes with each other.
*/

package network

import (
	"net"
	"strconv"
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
	"golang.org/x/net/ipv6"
)

// Multicast group is site-local. Group ID is 112.
const ipv6MulticastGroup = "ff05::112"

// listenDiscovery opens the discovery listeners. Failures are logged; discovery is optional.
func (network *Network) listenDiscovery() {
	port := strconv.Itoa(network.config.DiscoveryPort)

	if socket, err := listenPacketReuse("udp4", net.JoinHostPort("0.0.0.0", port)); err != nil {
		network.LogError("Network.listenDiscovery", "IPv4 broadcast listener: %v\n", err)
	} else {
		network.discovery = append(network.discovery, socket)
	}

	socket, err := listenPacketReuse("udp6", net.JoinHostPort("::", port))
	if err != nil {
		network.LogError("Network.listenDiscovery", "IPv6 multicast listener: %v\n", err)
		return
	}

	if joined := joinMulticastGroup(socket); joined == 0 {
		network.LogError("Network.listenDiscovery", "IPv6 multicast group could not be joined on any interface\n")
	}
	network.discovery = append(network.discovery, socket)
}

// joinMulticastGroup joins the multicast group on all interfaces. It returns the count of interfaces joined.
func joinMulticastGroup(socket net.PacketConn) (joined int) {
	group := &net.UDPAddr{IP: net.ParseIP(ipv6MulticastGroup)}
	pc := ipv6.NewPacketConn(socket)

	interfaceList, err := net.Interfaces()
	if err != nil {
		return 0
	}

	for n := range interfaceList {
		if interfaceList[n].Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := pc.JoinGroup(&interfaceList[n], group); err == nil {
			joined++
		}
	}

	// receive messages from other processes running on the same computer
	if loop, err := pc.MulticastLoopback(); err == nil && !loop {
		pc.SetMulticastLoopback(true)
	}

	return joined
}

// listenDiscoveryPackets listens for incoming discovery pings
func (network *Network) listenDiscoveryPackets(socket net.PacketConn) {
	defer network.wg.Done()

	for {
		buffer := make([]byte, protocol.UDPMaxPacketSize)
		length, sender, err := socket.ReadFrom(buffer)

		if err != nil {
			if network.isClosed() {
				return
			}

			network.LogError("Network.listenDiscoveryPackets", "receiving UDP message: %v\n", err)
			time.Sleep(time.Millisecond * 50)
			continue
		}

		senderUDP, ok := sender.(*net.UDPAddr)
		if !ok || length < protocol.PacketLengthMin {
			continue
		}

		network.handleUDP(buffer[:length], senderUDP, protocol.DiscoveryPublicKey)
	}
}

// discoveryTargets returns the IPv4 broadcast addresses and the IPv6 multicast group
func discoveryTargets(port int) (targets []*net.UDPAddr) {
	for _, ip := range ipv4BroadcastIPs() {
		targets = append(targets, &net.UDPAddr{IP: ip, Port: port})
	}
	return append(targets, &net.UDPAddr{IP: net.ParseIP(ipv6MulticastGroup), Port: port})
}

// ipv4BroadcastIPs returns the limited broadcast address and the directed broadcast address of every IPv4 network
func ipv4BroadcastIPs() (broadcastIPs []net.IP) {
	broadcastIPs = append(broadcastIPs, net.IPv4bcast)

	addresses, err := net.InterfaceAddrs()
	if err != nil {
		return broadcastIPs
	}

	seen := make(map[string]struct{})
	for _, address := range addresses {
		ipnet, ok := address.(*net.IPNet)
		if !ok || ipnet.IP.To4() == nil || ipnet.IP.IsLoopback() || rfc3927Net.Contains(ipnet.IP) {
			continue
		}

		if ip := ipv4DirectedBroadcast(ipnet); ip != nil {
			if _, exists := seen[ip.String()]; !exists {
				seen[ip.String()] = struct{}{}
				broadcastIPs = append(broadcastIPs, ip)
			}
		}
	}

	return broadcastIPs
}

func ipv4DirectedBroadcast(n *net.IPNet) net.IP {
	ip4 := n.IP.To4()
	if ip4 == nil || len(n.Mask) != net.IPv4len {
		return nil
	}
	last := make(net.IP, len(ip4))
	copy(last, ip4)
	for i := range ip4 {
		last[i] |= ^n.Mask[i]
	}
	return last
}

// rfc3927Net specifies the IPv4 auto configuration address block as defined by RFC3927 (169.254.0.0/16).
var rfc3927Net = net.IPNet{IP: net.ParseIP("169.254.0.0"), Mask: net.CIDRMask(16, 32)}
