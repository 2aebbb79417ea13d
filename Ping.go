/*
File Name:  Ping.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	"context"
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
)

// autoPingAll pings all nodes in the routing table every ping interval. Nodes that do not respond, respond with a different
// identity or whose token left the age window are removed. Local discovery is sent out every cycle.
func (backend *Backend) autoPingAll() {
	defer backend.wg.Done()

	interval := time.Duration(backend.Config.PingInterval)
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-backend.closeReq:
			return
		case <-ticker.C:
			backend.pingAll()

			if backend.Config.EnableDiscovery {
				backend.Network.Discover()
			}
		}
	}
}

// pingAll pings all nodes of the routing table in parallel and waits for the results.
func (backend *Backend) pingAll() (removed int) {
	nodes := backend.Table.AllNodes()
	results := make(chan bool, len(nodes))
	ctx := backend.ctx

	queued := 0
	for _, node := range nodes {
		node := node
		if err := backend.pool.Go(ctx, func() { results <- backend.pingNode(ctx, node) }); err != nil {
			break
		}
		queued++
	}

	for n := 0; n < queued; n++ {
		if !<-results {
			removed++
		}
	}

	return removed
}

// pingNode pings the node and removes it from the routing table if the response is not acceptable. Returns false if removed.
func (backend *Backend) pingNode(ctx context.Context, node *protocol.ExtendedNode) bool {
	responder, err := backend.Network.Ping(ctx, node.Address(), node.PublicKey())
	if err == nil && responder.ID() == node.ID() && backend.Validator.IsOldWorker(responder) {
		backend.Table.Insert(responder)
		return true
	} else if backend.isStopping() {
		return true
	}

	backend.Table.Remove(node)
	return false
}
