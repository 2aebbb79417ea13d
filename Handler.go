/*
File Name:  Handler.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Handling of incoming requests. Every authenticated sender holding a valid token is added to the routing table.
Store requests are only accepted from senders holding a valid token.
*/

package core

import (
	"github.com/PeernetOfficial/seeddht/network"
	"github.com/PeernetOfficial/seeddht/protocol"
)

// handler implements network.Handler
type handler struct {
	backend *Backend
}

func (h *handler) Self() *protocol.ExtendedNode {
	return h.backend.Self()
}

// HandleSender adds the sender to the routing table if it is an old worker
func (h *handler) HandleSender(sender *network.Incoming) {
	h.backend.addPeer(sender.Extended)
}

func (h *handler) HandleFindNode(sender *network.Incoming, target protocol.ID) []*protocol.ExtendedNode {
	h.backend.Filters.IncomingRequest(sender, protocol.CommandFindNode, target)

	return h.backend.Table.FindClosest(target)
}

func (h *handler) HandleFindValue(sender *network.Incoming, key protocol.Key) []protocol.Value {
	h.backend.Filters.IncomingRequest(sender, protocol.CommandFindValue, key.ID)

	values, _ := h.backend.Holder.Get(key)
	return values
}

func (h *handler) HandleStore(sender *network.Incoming, key protocol.Key, value protocol.Value) bool {
	h.backend.Filters.IncomingRequest(sender, protocol.CommandStore, key.ID)

	if sender.Extended == nil || !h.backend.Validator.IsOldWorker(sender.Extended) {
		return false
	}

	return h.backend.Holder.Store(key, value)
}

// addPeer inserts the node into the routing table if it holds a valid token. It returns true if the node was not known before.
func (backend *Backend) addPeer(node *protocol.ExtendedNode) (added bool) {
	if node == nil || node.ID() == backend.nodeID || !backend.Validator.IsOldWorker(node) {
		return false
	}

	known := backend.Table.IsPresent(node)
	if !backend.Table.Insert(node) || known {
		return false
	}

	backend.Filters.NewPeer(node)
	return true
}
