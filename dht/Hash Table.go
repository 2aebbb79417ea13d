/*
File Name:  Hash Table.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The routing table is a binary trie over the ID bits, built once from the local ID. Each level splits along the local ID's bit:
The child matching the local bit continues the local prefix, the sibling is a k-bucket. At full depth the local prefix ends in the self leaf.
The local node is therefore never stored in a bucket.

Every traversal is a single switch over the node kind. There are no parent pointers.
*/

package dht

import (
	"math/rand"
	"sync"

	"github.com/PeernetOfficial/seeddht/protocol"
)

type trieKind int

const (
	trieInternal trieKind = iota // Continues the local prefix
	trieBucket                   // Sibling subtree stored in a k-bucket
	trieSelf                     // Leaf matching the full local ID
)

type trieNode struct {
	kind     trieKind
	children [2]*trieNode // trieInternal only. Index = bit value.
	bucket   *KBucket     // trieBucket only
}

// RoutingTable stores the known nodes of the network
type RoutingTable struct {
	selfID     protocol.ID  // ID of the local node
	self       SelfProvider // Current identity of the local node
	validator  Validator    // Token validity of stored nodes
	bucketSize int          // K
	fanout     int          // Count of candidates per branch
	root       *trieNode

	mutex sync.Mutex
}

// NewRoutingTable builds the trie for the local ID.
func NewRoutingTable(selfID protocol.ID, bucketSize, fanout int, self SelfProvider, validator Validator) *RoutingTable {
	if fanout < 1 {
		fanout = 1
	}

	table := &RoutingTable{
		selfID:     selfID,
		self:       self,
		validator:  validator,
		bucketSize: bucketSize,
		fanout:     fanout,
		root:       &trieNode{kind: trieInternal},
	}

	node := table.root
	for level := 0; level < protocol.IDBits; level++ {
		bit := selfID.Bit(level)
		node.children[1-bit] = &trieNode{kind: trieBucket, bucket: NewKBucket(bucketSize)}

		if level == protocol.IDBits-1 {
			node.children[bit] = &trieNode{kind: trieSelf}
		} else {
			next := &trieNode{kind: trieInternal}
			node.children[bit] = next
			node = next
		}
	}

	return table
}

// SelfID returns the ID the table was built for
func (table *RoutingTable) SelfID() protocol.ID {
	return table.selfID
}

// leafFor returns the leaf on the path of the ID: either a bucket or the self leaf.
func (table *RoutingTable) leafFor(id protocol.ID) *trieNode {
	node := table.root
	for level := 0; ; level++ {
		switch node.kind {
		case trieInternal:
			node = node.children[id.Bit(level)]
		case trieBucket, trieSelf:
			return node
		}
	}
}

// FindClosest returns the known valid nodes closest to the target, sorted by distance. The local node is included if it holds a valid token.
// Entries that are no longer valid are evicted as a side effect. Validity is checked without holding the table lock.
func (table *RoutingTable) FindClosest(target protocol.ID) []*protocol.ExtendedNode {
	table.mutex.Lock()
	snapshot := table.snapshot()
	table.mutex.Unlock()

	var invalid []*protocol.ExtendedNode
	result := table.findClosest(table.root, 0, target, snapshot, &invalid)

	if len(invalid) > 0 {
		table.mutex.Lock()
		for _, node := range invalid {
			if leaf := table.leafFor(node.ID()); leaf.kind == trieBucket {
				leaf.bucket.RemoveEntry(node)
			}
		}
		table.mutex.Unlock()
	}

	result = sortByDistance(target, result)
	if len(result) > table.bucketSize {
		result = result[:table.bucketSize]
	}
	return result
}

// snapshot copies the entries of all non-empty buckets. The caller must hold the lock.
// The trie itself is never modified after construction, only the bucket contents are.
func (table *RoutingTable) snapshot() (snapshot map[*KBucket][]*protocol.ExtendedNode) {
	snapshot = make(map[*KBucket][]*protocol.ExtendedNode)
	table.walk(func(bucket *KBucket) {
		if bucket.Len() > 0 {
			snapshot[bucket] = bucket.Nodes()
		}
	})
	return snapshot
}

// findClosest recurses into the child matching the target bit, and into the sibling only if the primary yields fewer than fanout candidates.
// Invalid bucket entries are appended to invalid.
func (table *RoutingTable) findClosest(node *trieNode, level int, target protocol.ID, snapshot map[*KBucket][]*protocol.ExtendedNode, invalid *[]*protocol.ExtendedNode) []*protocol.ExtendedNode {
	switch node.kind {
	case trieInternal:
		bit := target.Bit(level)
		primary := table.findClosest(node.children[bit], level+1, target, snapshot, invalid)
		if len(primary) >= table.fanout {
			return primary
		}
		return unionNodes(primary, table.findClosest(node.children[1-bit], level+1, target, snapshot, invalid))

	case trieBucket:
		return table.collectBucket(snapshot[node.bucket], target, invalid)

	case trieSelf:
		if self := table.self(); self != nil && table.validator.IsOldWorker(self) {
			return []*protocol.ExtendedNode{self}
		}
	}

	return nil
}

// collectBucket re-checks the validity of the bucket entries and returns up to fanout valid entries closest to the target.
func (table *RoutingTable) collectBucket(nodes []*protocol.ExtendedNode, target protocol.ID, invalid *[]*protocol.ExtendedNode) []*protocol.ExtendedNode {
	if len(nodes) == 0 {
		return nil
	}

	valid := table.validator.AreCorrectlyOld(nodes)

	var result []*protocol.ExtendedNode
	for _, node := range nodes {
		if valid[node.ID()] {
			result = append(result, node)
		} else {
			*invalid = append(*invalid, node)
		}
	}

	result = sortByDistance(target, result)
	if len(result) > table.fanout {
		result = result[:table.fanout]
	}
	return result
}

// Insert adds the node to its bucket or refreshes it. Returns false if the node has the local ID.
// The caller is responsible for checking the validity of the node before.
func (table *RoutingTable) Insert(node *protocol.ExtendedNode) bool {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	leaf := table.leafFor(node.ID())
	switch leaf.kind {
	case trieBucket:
		leaf.bucket.Insert(node)
		return true
	}
	return false
}

// Remove removes the node. Returns false if it was not present or has the local ID.
func (table *RoutingTable) Remove(node *protocol.ExtendedNode) bool {
	return table.RemoveID(node.ID())
}

// RemoveID is like Remove but only requires the ID
func (table *RoutingTable) RemoveID(id protocol.ID) bool {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	leaf := table.leafFor(id)
	switch leaf.kind {
	case trieBucket:
		return leaf.bucket.Remove(id)
	}
	return false
}

// IsPresent checks if the node is stored. The local node is always present.
func (table *RoutingTable) IsPresent(node *protocol.ExtendedNode) bool {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	leaf := table.leafFor(node.ID())
	switch leaf.kind {
	case trieBucket:
		return leaf.bucket.Contains(node.ID())
	case trieSelf:
		return true
	}
	return false
}

// AllNodes returns all stored nodes. The local node is not included.
func (table *RoutingTable) AllNodes() (nodes []*protocol.ExtendedNode) {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	table.walk(func(bucket *KBucket) {
		nodes = append(nodes, bucket.Nodes()...)
	})
	return nodes
}

// RandomNode returns a random stored node. Nil if the table is empty.
func (table *RoutingTable) RandomNode() *protocol.ExtendedNode {
	nodes := table.AllNodes()
	if len(nodes) == 0 {
		return nil
	}
	return nodes[rand.Intn(len(nodes))]
}

// Count returns the count of stored nodes
func (table *RoutingTable) Count() (count int) {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	table.walk(func(bucket *KBucket) {
		count += bucket.Len()
	})
	return count
}

// BucketCounts returns the count of nodes per non-empty bucket. The key is the depth of the bucket (= count of shared prefix bits with the local ID).
func (table *RoutingTable) BucketCounts() (counts map[int]int) {
	table.mutex.Lock()
	defer table.mutex.Unlock()

	counts = make(map[int]int)
	node := table.root
	for level := 0; node != nil && node.kind == trieInternal; level++ {
		bit := table.selfID.Bit(level)
		if sibling := node.children[1-bit]; sibling.bucket.Len() > 0 {
			counts[level] = sibling.bucket.Len()
		}
		node = node.children[bit]
	}
	return counts
}

// walk calls the callback for every bucket. The caller must hold the lock.
func (table *RoutingTable) walk(callback func(bucket *KBucket)) {
	var visit func(node *trieNode)
	visit = func(node *trieNode) {
		switch node.kind {
		case trieInternal:
			visit(node.children[0])
			visit(node.children[1])
		case trieBucket:
			callback(node.bucket)
		case trieSelf:
		}
	}
	visit(table.root)
}
