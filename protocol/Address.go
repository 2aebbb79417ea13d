/*
File Name:  Address.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package protocol

import (
	"net"
	"strconv"

	"github.com/zeebo/errs"
)

// ErrAddress is the error class for invalid physical addresses
var ErrAddress = errs.Class("invalid address")

// Address is the physical address of a node. UDP is used for pings and discovery, TCP for request/reply.
type Address struct {
	Host    string
	UDPPort int
	TCPPort int
}

// NewAddress validates the ports and returns the address.
func NewAddress(host string, udpPort, tcpPort int) (address Address, err error) {
	if udpPort < 0 || udpPort > 65535 {
		return address, ErrAddress.New("UDP port %d out of range", udpPort)
	} else if tcpPort < 0 || tcpPort > 65535 {
		return address, ErrAddress.New("TCP port %d out of range", tcpPort)
	}

	return Address{Host: host, UDPPort: udpPort, TCPPort: tcpPort}, nil
}

// UDP returns the host:port string to dial via UDP
func (address Address) UDP() string {
	return net.JoinHostPort(address.Host, strconv.Itoa(address.UDPPort))
}

// TCP returns the host:port string to dial via TCP
func (address Address) TCP() string {
	return net.JoinHostPort(address.Host, strconv.Itoa(address.TCPPort))
}

func (address Address) String() string {
	return address.Host + " UDP " + strconv.Itoa(address.UDPPort) + " TCP " + strconv.Itoa(address.TCPPort)
}
