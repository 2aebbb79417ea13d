/*
File Name:  Node.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package dht

import (
	"sort"

	"github.com/PeernetOfficial/seeddht/protocol"
	mapset "github.com/deckarep/golang-set/v2"
)

// shortList is used in order to sort a list of arbitrary nodes against a comparator. These nodes are sorted by xor distance
type shortList struct {
	// Nodes are a list of nodes to be compared
	Nodes []*protocol.ExtendedNode

	// Comparator is the ID to compare to
	Comparator protocol.ID
}

func newShortList(comparator protocol.ID, nodes ...*protocol.ExtendedNode) *shortList {
	list := &shortList{Comparator: comparator}
	list.AppendUniqueNodes(nodes...)
	return list
}

// AppendUniqueNodes appends the nodes that are not yet in the list. The list is not re-sorted.
func (n *shortList) AppendUniqueNodes(nodes ...*protocol.ExtendedNode) {
	ids := n.IDs()
	for _, node := range nodes {
		if ids.Add(node.ID()) {
			n.Nodes = append(n.Nodes, node)
		}
	}
}

// RemoveNode removes the node with the ID
func (n *shortList) RemoveNode(id protocol.ID) {
	for i := 0; i < n.Len(); i++ {
		if n.Nodes[i].ID() == id {
			n.Nodes = append(n.Nodes[:i], n.Nodes[i+1:]...)
			return
		}
	}
}

// IDs returns the set of node IDs in the list
func (n *shortList) IDs() mapset.Set[protocol.ID] {
	ids := mapset.NewThreadUnsafeSet[protocol.ID]()
	for _, node := range n.Nodes {
		ids.Add(node.ID())
	}
	return ids
}

// Contains checks if the node is in the list
func (n *shortList) Contains(id protocol.ID) bool {
	for _, node := range n.Nodes {
		if node.ID() == id {
			return true
		}
	}
	return false
}

// Sort sorts the list by distance to the comparator. Ties keep their order.
func (n *shortList) Sort() {
	sort.Stable(n)
}

// Take removes and returns up to count nodes from the head of the list.
func (n *shortList) Take(count int) (nodes []*protocol.ExtendedNode) {
	if count > len(n.Nodes) {
		count = len(n.Nodes)
	}
	nodes = append(nodes, n.Nodes[:count]...)
	n.Nodes = n.Nodes[count:]
	return nodes
}

// Truncate caps the list at count entries
func (n *shortList) Truncate(count int) {
	if len(n.Nodes) > count {
		n.Nodes = n.Nodes[:count]
	}
}

func (n *shortList) Len() int {
	return len(n.Nodes)
}

func (n *shortList) Swap(i, j int) {
	n.Nodes[i], n.Nodes[j] = n.Nodes[j], n.Nodes[i]
}

func (n *shortList) Less(i, j int) bool {
	return protocol.IsCloser(n.Comparator, n.Nodes[i].ID(), n.Nodes[j].ID())
}

// sortByDistance sorts the nodes by distance to the target and returns them.
func sortByDistance(target protocol.ID, nodes []*protocol.ExtendedNode) []*protocol.ExtendedNode {
	list := &shortList{Comparator: target, Nodes: nodes}
	list.Sort()
	return list.Nodes
}

// unionNodes merges the node lists. Nodes with the same ID are only kept once, the first occurrence wins.
func unionNodes(lists ...[]*protocol.ExtendedNode) (result []*protocol.ExtendedNode) {
	seen := mapset.NewThreadUnsafeSet[protocol.ID]()
	for _, list := range lists {
		for _, node := range list {
			if seen.Add(node.ID()) {
				result = append(result, node)
			}
		}
	}
	return result
}

// nodeIDs returns the IDs of the nodes as set
func nodeIDs(nodes []*protocol.ExtendedNode) mapset.Set[protocol.ID] {
	ids := mapset.NewThreadUnsafeSet[protocol.ID]()
	for _, node := range nodes {
		ids.Add(node.ID())
	}
	return ids
}
