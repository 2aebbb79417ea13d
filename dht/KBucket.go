/*
File Name:  KBucket.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package dht

import (
	"github.com/PeernetOfficial/seeddht/protocol"
)

// KBucket is a fixed-capacity list of nodes ordered by sighting. It is not synchronized; the routing table holds the lock.
// Nodes are sorted by least recently seen e.g.
// [ ][ ][ ][ ][ ][ ][ ][ ][ ][ ][ ][ ][ ][ ][ ][ ][ ][ ][ ][ ][ ]
//  ^                                                           ^
//  └ Least recently seen                    Most recently seen ┘
type KBucket struct {
	size  int
	nodes []*protocol.ExtendedNode
}

// NewKBucket creates a bucket with the given capacity
func NewKBucket(size int) *KBucket {
	if size < 1 {
		size = 1
	}
	return &KBucket{size: size, nodes: make([]*protocol.ExtendedNode, 0, size)}
}

func (bucket *KBucket) indexOf(id protocol.ID) int {
	for n, node := range bucket.nodes {
		if node.ID() == id {
			return n
		}
	}
	return -1
}

// Insert adds the node at the tail. A node already present is replaced by the new record and moved to the tail.
// If the bucket is full, the least recently seen node is evicted.
func (bucket *KBucket) Insert(node *protocol.ExtendedNode) (evicted *protocol.ExtendedNode) {
	if index := bucket.indexOf(node.ID()); index >= 0 {
		bucket.nodes = append(bucket.nodes[:index], bucket.nodes[index+1:]...)
	} else if len(bucket.nodes) >= bucket.size {
		evicted = bucket.nodes[0]
		bucket.nodes = bucket.nodes[1:]
	}

	bucket.nodes = append(bucket.nodes, node)
	return evicted
}

// Remove removes the node. It returns false if the node was not present.
func (bucket *KBucket) Remove(id protocol.ID) bool {
	index := bucket.indexOf(id)
	if index < 0 {
		return false
	}
	bucket.nodes = append(bucket.nodes[:index], bucket.nodes[index+1:]...)
	return true
}

// RemoveEntry removes the node only if the stored record is still the given one. A record refreshed in the meantime stays.
func (bucket *KBucket) RemoveEntry(node *protocol.ExtendedNode) bool {
	index := bucket.indexOf(node.ID())
	if index < 0 || bucket.nodes[index] != node {
		return false
	}
	bucket.nodes = append(bucket.nodes[:index], bucket.nodes[index+1:]...)
	return true
}

// Contains checks if the node is present
func (bucket *KBucket) Contains(id protocol.ID) bool {
	return bucket.indexOf(id) >= 0
}

// Nodes returns a copy of the nodes, least recently seen first.
func (bucket *KBucket) Nodes() []*protocol.ExtendedNode {
	nodes := make([]*protocol.ExtendedNode, len(bucket.nodes))
	copy(nodes, bucket.nodes)
	return nodes
}

// Len returns the count of nodes
func (bucket *KBucket) Len() int {
	return len(bucket.nodes)
}
