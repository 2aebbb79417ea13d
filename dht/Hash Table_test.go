package dht

import (
	"testing"
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKBucketEviction(t *testing.T) {
	bucket := NewKBucket(3)
	a, b, c, d := newTestNode(t), newTestNode(t), newTestNode(t), newTestNode(t)

	assert.Nil(t, bucket.Insert(a))
	assert.Nil(t, bucket.Insert(b))
	assert.Nil(t, bucket.Insert(c))

	// refreshing a moves it to the tail, b is now least recently seen
	assert.Nil(t, bucket.Insert(a))
	assert.Equal(t, []*protocol.ExtendedNode{b, c, a}, bucket.Nodes())

	evicted := bucket.Insert(d)
	assert.Equal(t, b, evicted)
	assert.Equal(t, []*protocol.ExtendedNode{c, a, d}, bucket.Nodes())
	assert.False(t, bucket.Contains(b.ID()))

	assert.True(t, bucket.Remove(c.ID()))
	assert.False(t, bucket.Remove(c.ID()))
	assert.Equal(t, 2, bucket.Len())

	// a replaced record is not removed through the old one
	refreshed := *a
	bucket.Insert(&refreshed)
	assert.False(t, bucket.RemoveEntry(a))
	assert.True(t, bucket.Contains(a.ID()))
	assert.True(t, bucket.RemoveEntry(&refreshed))
	assert.False(t, bucket.Contains(a.ID()))
}

func TestRoutingTableSelf(t *testing.T) {
	self := newTestNode(t)
	validator := &testValidator{}
	table := NewRoutingTable(self.ID(), 20, 3, func() *protocol.ExtendedNode { return self }, validator)

	assert.False(t, table.Insert(self))
	assert.True(t, table.IsPresent(self))
	assert.False(t, table.Remove(self))
	assert.Equal(t, 0, table.Count())

	// the local node is returned when it holds a valid token
	closest := table.FindClosest(self.ID())
	require.Len(t, closest, 1)
	assert.Equal(t, self.ID(), closest[0].ID())

	validator.invalid.Store(self.ID(), true)
	assert.Empty(t, table.FindClosest(self.ID()))
	assert.Nil(t, table.RandomNode())
}

func TestRoutingTableFindClosest(t *testing.T) {
	self := newTestNode(t)
	validator := &testValidator{}
	validator.invalid.Store(self.ID(), true)
	table := NewRoutingTable(self.ID(), 20, 3, func() *protocol.ExtendedNode { return self }, validator)

	// 16 nodes never overflow a bucket of 20, so the table knows all of them.
	var nodes []*protocol.ExtendedNode
	for n := 0; n < 16; n++ {
		node := newTestNode(t)
		nodes = append(nodes, node)
		assert.True(t, table.Insert(node))
		assert.True(t, table.IsPresent(node))
	}
	assert.Equal(t, 16, table.Count())
	assert.Len(t, table.AllNodes(), 16)
	assert.NotNil(t, table.RandomNode())

	target := newTestNode(t).ID()
	closest := table.FindClosest(target)
	require.NotEmpty(t, closest)
	for n := 1; n < len(closest); n++ {
		assert.True(t, protocol.CompareDistance(target, closest[n-1].ID(), closest[n].ID()) <= 0, "sorted by distance")
	}

	// the closest node overall is always found
	expected := sortByDistance(target, append([]*protocol.ExtendedNode{}, nodes...))[0]
	assert.Equal(t, expected.ID(), closest[0].ID())

	// stale entries are never returned and are evicted during the read
	validator.invalid.Store(expected.ID(), true)
	for _, node := range table.FindClosest(target) {
		assert.NotEqual(t, expected.ID(), node.ID())
	}
	assert.False(t, table.IsPresent(expected))
	assert.Equal(t, 15, table.Count())

	assert.True(t, table.Remove(nodes[1]))
	assert.False(t, table.IsPresent(nodes[1]))
}

// hookValidator calls onBatch before validating a batch of nodes.
type hookValidator struct {
	testValidator
	onBatch func(nodes []*protocol.ExtendedNode)
}

func (v *hookValidator) AreCorrectlyOld(nodes []*protocol.ExtendedNode) map[protocol.ID]bool {
	if v.onBatch != nil {
		v.onBatch(nodes)
	}
	return v.testValidator.AreCorrectlyOld(nodes)
}

func TestRoutingTableValidationUnlocked(t *testing.T) {
	self := newTestNode(t)
	validator := &hookValidator{}
	table := NewRoutingTable(self.ID(), 20, 3, func() *protocol.ExtendedNode { return self }, validator)

	var nodes []*protocol.ExtendedNode
	for n := 0; n < 8; n++ {
		node := newTestNode(t)
		nodes = append(nodes, node)
		require.True(t, table.Insert(node))
	}

	target := newTestNode(t).ID()
	stale := sortByDistance(target, append([]*protocol.ExtendedNode{}, nodes...))[0]
	refreshed := *stale

	// the validator uses the table and a fresh record of the stale node arrives while it runs
	counts := make(chan int, len(nodes))
	validator.onBatch = func(batch []*protocol.ExtendedNode) {
		counts <- table.Count()
		if containsID(batch, stale.ID()) {
			validator.invalid.Store(stale.ID(), true)
			table.Insert(&refreshed)
		}
	}

	done := make(chan []*protocol.ExtendedNode)
	go func() { done <- table.FindClosest(target) }()

	var closest []*protocol.ExtendedNode
	select {
	case closest = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("FindClosest blocked while validating")
	}

	require.NotEmpty(t, counts)
	assert.Equal(t, 8, <-counts)
	assert.False(t, containsID(closest, stale.ID()))

	// only the record that was validated is evicted, the refreshed one stays
	assert.True(t, table.IsPresent(stale))
	assert.Equal(t, 8, table.Count())
}

func TestXORWeakOrder(t *testing.T) {
	target := newTestNode(t).ID()
	a, b, c := newTestNode(t).ID(), newTestNode(t).ID(), newTestNode(t).ID()

	// antisymmetric and transitive
	assert.Equal(t, -protocol.CompareDistance(target, a, b), protocol.CompareDistance(target, b, a))
	if protocol.IsCloser(target, a, b) && protocol.IsCloser(target, b, c) {
		assert.True(t, protocol.IsCloser(target, a, c))
	}
	assert.Equal(t, 0, protocol.CompareDistance(target, a, a))
	assert.Equal(t, a.Distance(target).Cmp(b.Distance(target)), protocol.CompareDistance(target, a, b))
}
