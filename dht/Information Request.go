/*
File Name:  Information Request.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Information requests are queries sent to multiple nodes at once. Each query runs in the worker pool and is bounded by the request timeout.
Failed queries and timeouts are reported as errors and are treated as no response by the caller.
*/

package dht

import (
	"context"
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
)

// nodeMessage is the response of a single node
type nodeMessage struct {
	Peer      *protocol.ExtendedNode   // Node that was queried
	Closest   []*protocol.ExtendedNode // Find node: closest nodes returned
	Responder *protocol.ExtendedNode   // Find value: identity the peer answered with
	Values    []protocol.Value         // Find value: values returned
	Accepted  bool                     // Store: whether the value was accepted
	Error     error
}

// requestFunc sends a single request. The context carries the per-request timeout.
type requestFunc func(ctx context.Context, peer *protocol.ExtendedNode) *nodeMessage

// sendInformationRequest queries all peers concurrently and collects the responses.
func (searcher *Searcher) sendInformationRequest(ctx context.Context, peers []*protocol.ExtendedNode, request requestFunc) (results []*nodeMessage) {
	resultChan := make(chan *nodeMessage, len(peers))
	started := 0

	for _, peer := range peers {
		peer := peer
		err := searcher.pool.Go(ctx, func() {
			ctxR, cancel := context.WithTimeout(ctx, searcher.config.RequestTimeout)
			defer cancel()

			result := request(ctxR, peer)
			if result == nil {
				result = &nodeMessage{Peer: peer}
			}
			result.Peer = peer
			resultChan <- result
		})
		if err != nil {
			searcher.LogError("Searcher.sendInformationRequest", "scheduling request to %s: %v\n", peer.ID(), err)
			continue
		}
		started++
	}

	return infoCollectResults(resultChan, started, searcher.config.RequestTimeout)
}

// infoCollectResults collects up to count responses. Requests honor their own timeout; the grace period only protects against transports that do not.
func infoCollectResults(resultChan chan *nodeMessage, count int, timeout time.Duration) (results []*nodeMessage) {
	if count == 0 {
		return nil
	}

	timer := time.NewTimer(timeout + timeout/2 + 10*time.Millisecond)
	defer timer.Stop()

	for len(results) < count {
		select {
		case result := <-resultChan:
			results = append(results, result)
		case <-timer.C:
			return results
		}
	}

	return results
}
