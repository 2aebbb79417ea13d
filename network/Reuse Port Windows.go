//go:build windows

/*
File Name:  Reuse Port Windows.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package network

import (
	"context"
	"net"
	"syscall"
)

// listenPacketReuse listens with SO_REUSEADDR set. Windows has no SO_REUSEPORT.
func listenPacketReuse(network, address string) (net.PacketConn, error) {
	config := net.ListenConfig{Control: func(network, address string, c syscall.RawConn) error {
		var errOpt error
		err := c.Control(func(fd uintptr) {
			errOpt = syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return errOpt
	}}

	return config.ListenPacket(context.Background(), network, address)
}
