/*
File Name:  Search Client.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The searcher runs iterative lookups in rounds. Each round queries up to alpha of the closest unasked nodes concurrently.
The best set holds the nodes closest to the target. After each round it only keeps the nodes at the nearest distance found so far,
shuffled and capped at alpha. The lookup ends when a round does not change the best set, or when no unasked nodes are left.
The result is the best set, so it never holds a node farther than the nearest one known at the start.
*/

package dht

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/PeernetOfficial/seeddht/protocol"
	mapset "github.com/deckarep/golang-set/v2"
)

// Searcher runs lookups, value lookups and store fan-outs.
type Searcher struct {
	table     *RoutingTable
	transport Transport
	validator Validator
	holder    *KeyHolder
	self      SelfProvider
	pool      TaskRunner
	config    Config

	// LogStatus receives live progress of lookups. LogError receives errors. Both must be set before use.
	LogStatus LogFunc
	LogError  LogFunc

	started  atomic.Bool
	closeReq chan struct{}
	closed   chan struct{}
	stopOnce sync.Once
}

// NewSearcher creates a new searcher.
func NewSearcher(table *RoutingTable, transport Transport, validator Validator, holder *KeyHolder, self SelfProvider, pool TaskRunner, config Config) *Searcher {
	if config.Alpha < 1 {
		config.Alpha = 1
	}

	return &Searcher{
		table:     table,
		transport: transport,
		validator: validator,
		holder:    holder,
		self:      self,
		pool:      pool,
		config:    config,
		LogStatus: logNothing,
		LogError:  logNothing,
		closeReq:  make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

// validSelf returns the local identity if it holds a valid token
func (searcher *Searcher) validSelf() *protocol.ExtendedNode {
	if self := searcher.self(); self != nil && searcher.validator.IsOldWorker(self) {
		return self
	}
	return nil
}

// Lookup finds the nodes closest to the target. The result holds at most alpha nodes sorted by distance, and includes the local node if it holds a valid token and is the closest.
func (searcher *Searcher) Lookup(ctx context.Context, target protocol.ID) []*protocol.ExtendedNode {
	selfID := searcher.table.SelfID()
	initial := searcher.table.FindClosest(target)

	asked := mapset.NewThreadUnsafeSet[protocol.ID](selfID)
	unasked := newShortList(target)
	best := newShortList(target, initial...)

	for _, node := range initial {
		if node.ID() != selfID {
			unasked.AppendUniqueNodes(node)
		}
	}
	if self := searcher.validSelf(); self != nil {
		best.AppendUniqueNodes(self)
	}

	searcher.narrowBest(best)

	for round := 0; unasked.Len() > 0 && ctx.Err() == nil; round++ {
		unasked.Sort()
		batch := unasked.Take(searcher.config.Alpha)
		for _, node := range batch {
			asked.Add(node.ID())
		}

		searcher.LogStatus("Searcher.Lookup", "target %s round %d: query %d nodes, %d unasked\n", target, round, len(batch), unasked.Len())

		results := searcher.sendInformationRequest(ctx, batch, func(ctx context.Context, peer *protocol.ExtendedNode) *nodeMessage {
			closest, err := searcher.transport.FindNode(ctx, peer, target)
			return &nodeMessage{Closest: closest, Error: err}
		})

		var roundNodes []*protocol.ExtendedNode
		for _, result := range results {
			if result.Error != nil {
				searcher.LogStatus("Searcher.Lookup", "target %s: no response from %s: %v\n", target, result.Peer.ID(), result.Error)
				continue
			}

			candidates := unionNodes(result.Closest)
			valid := searcher.validator.AreCorrectlyOld(candidates)
			for _, candidate := range candidates {
				if !valid[candidate.ID()] {
					continue
				}
				roundNodes = append(roundNodes, candidate)
				if !asked.Contains(candidate.ID()) {
					unasked.AppendUniqueNodes(candidate)
				}
			}
		}

		unasked.Sort()

		if !searcher.updateBest(best, roundNodes) {
			break
		}
	}

	searcher.pingUnknown(best.Nodes)

	result := sortByDistance(target, best.Nodes)

	searcher.LogStatus("Searcher.Lookup", "target %s: finished with %d nodes\n", target, len(result))

	return result
}

// updateBest merges the round results into the best set. It returns true if the membership changed.
func (searcher *Searcher) updateBest(best *shortList, roundNodes []*protocol.ExtendedNode) (changed bool) {
	best.Sort()
	previous := best.IDs()

	best.AppendUniqueNodes(roundNodes...)
	searcher.narrowBest(best)

	return !previous.Equal(best.IDs())
}

// narrowBest drops all nodes farther than the nearest one, then shuffles and caps the remainder at alpha.
func (searcher *Searcher) narrowBest(best *shortList) {
	best.Sort()
	if best.Len() == 0 {
		return
	}

	nearest := best.Nodes[0]
	var filtered []*protocol.ExtendedNode
	for _, node := range best.Nodes {
		if protocol.CompareDistance(best.Comparator, node.ID(), nearest.ID()) <= 0 {
			filtered = append(filtered, node)
		}
	}
	best.Nodes = filtered

	rand.Shuffle(best.Len(), best.Swap)
	best.Truncate(searcher.config.Alpha)
	best.Sort()
}

// pingUnknown pings all nodes that are not in the routing table, asynchronously. Responding valid nodes are inserted.
func (searcher *Searcher) pingUnknown(nodes []*protocol.ExtendedNode) {
	for _, node := range nodes {
		if node.ID() == searcher.table.SelfID() || searcher.table.IsPresent(node) {
			continue
		}

		node := node
		go func() {
			err := searcher.pool.Go(context.Background(), func() {
				ctx, cancel := context.WithTimeout(context.Background(), searcher.config.RequestTimeout)
				defer cancel()

				responder, err := searcher.transport.Ping(ctx, node.Address(), node.PublicKey())
				if err != nil || responder.ID() != node.ID() || !searcher.validator.IsOldWorker(responder) {
					return
				}
				searcher.table.Insert(responder)
			})
			if err != nil {
				searcher.LogError("Searcher.pingUnknown", "scheduling ping to %s: %v\n", node.ID(), err)
			}
		}()
	}
}

// Get looks up the values of the key. Values are accepted only from responders with a valid token.
func (searcher *Searcher) Get(ctx context.Context, key protocol.Key) (values []protocol.Value, found bool) {
	closest := searcher.Lookup(ctx, key.ID)
	fingerprints := mapset.NewThreadUnsafeSet[string]()

	addValues := func(list []protocol.Value) {
		for _, value := range list {
			if fingerprints.Add(value.Fingerprint()) {
				values = append(values, value)
			}
		}
	}

	var remote []*protocol.ExtendedNode
	for _, node := range closest {
		if node.ID() == searcher.table.SelfID() {
			if local, ok := searcher.holder.Get(key); ok {
				addValues(local)
			}
			continue
		}
		remote = append(remote, node)
	}

	results := searcher.sendInformationRequest(ctx, remote, func(ctx context.Context, peer *protocol.ExtendedNode) *nodeMessage {
		responder, values, err := searcher.transport.FindValue(ctx, peer, key)
		return &nodeMessage{Responder: responder, Values: values, Error: err}
	})

	for _, result := range results {
		if result.Error != nil || result.Responder == nil || result.Responder.ID() != result.Peer.ID() {
			continue
		}
		if !searcher.validator.IsOldWorker(result.Responder) {
			searcher.LogStatus("Searcher.Get", "key %s: ignore values from %s, token not valid\n", key.ID, result.Peer.ID())
			continue
		}
		addValues(result.Values)
	}

	if len(values) == 0 {
		return nil, false
	}
	return subsample(values, searcher.config.MaxValues), true
}

// Store stores the value on the nodes closest to the key. It returns true if at least one node accepted it.
func (searcher *Searcher) Store(ctx context.Context, key protocol.Key, value protocol.Value) bool {
	closest := searcher.Lookup(ctx, key.ID)
	return searcher.storeOnNodes(ctx, closest, key, value, true)
}

// storeOnNodes stores the value on the given nodes. The local node is only stored to if storeLocal is set.
func (searcher *Searcher) storeOnNodes(ctx context.Context, nodes []*protocol.ExtendedNode, key protocol.Key, value protocol.Value, storeLocal bool) (accepted bool) {
	var remote []*protocol.ExtendedNode
	for _, node := range nodes {
		if node.ID() == searcher.table.SelfID() {
			if storeLocal && searcher.holder.Store(key, value) {
				accepted = true
			}
			continue
		}
		remote = append(remote, node)
	}

	results := searcher.sendInformationRequest(ctx, remote, func(ctx context.Context, peer *protocol.ExtendedNode) *nodeMessage {
		ok, err := searcher.transport.Store(ctx, peer, key, value)
		return &nodeMessage{Accepted: ok, Error: err}
	})

	for _, result := range results {
		if result.Error == nil && result.Accepted {
			accepted = true
		}
	}

	return accepted
}
