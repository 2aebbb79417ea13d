//go:build !windows

/*
File Name:  Reuse Port.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package network

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenPacketReuse listens with SO_REUSEADDR and SO_REUSEPORT set, so multiple processes can share the port.
func listenPacketReuse(network, address string) (net.PacketConn, error) {
	config := net.ListenConfig{Control: func(network, address string, c syscall.RawConn) error {
		var errOpt error
		err := c.Control(func(fd uintptr) {
			if errOpt = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); errOpt != nil {
				return
			}
			errOpt = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		})
		if err != nil {
			return err
		}
		return errOpt
	}}

	return config.ListenPacket(context.Background(), network, address)
}
