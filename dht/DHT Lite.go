/*
File Name:  DHT Lite.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

A "lite" DHT implementation without any direct network and ledger code. The network, the token validity and the seed are provided by the caller through interfaces.
*/

package dht

import (
	"context"
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/btcsuite/btcd/btcec"
)

// Validator checks whether nodes hold a token inside the valid age window.
// The routing table calls it without holding its lock, so implementations may block on the ledger.
type Validator interface {
	// IsOldWorker checks a single node.
	IsOldWorker(node *protocol.ExtendedNode) bool

	// AreCorrectlyOld checks multiple nodes at once. The result contains an entry for every node ID.
	AreCorrectlyOld(nodes []*protocol.ExtendedNode) map[protocol.ID]bool
}

// SelfProvider returns the current identity of the local node. Nil if the local node has no token yet.
type SelfProvider func() *protocol.ExtendedNode

// SeedOracle provides the seeds of the current and the last epoch. Nil if not yet known.
type SeedOracle interface {
	CurrentSeed() []byte
	LastSeed() []byte
}

// Transport is the RPC boundary. All calls are bounded by the context; errors and timeouts count as no response.
type Transport interface {
	// FindNode asks the peer for the nodes closest to the target.
	FindNode(ctx context.Context, peer *protocol.ExtendedNode, target protocol.ID) (closest []*protocol.ExtendedNode, err error)

	// FindValue asks the peer for the values stored under the key. The responder is the identity the peer answered with.
	FindValue(ctx context.Context, peer *protocol.ExtendedNode, key protocol.Key) (responder *protocol.ExtendedNode, values []protocol.Value, err error)

	// Store asks the peer to store the value.
	Store(ctx context.Context, peer *protocol.ExtendedNode, key protocol.Key, value protocol.Value) (accepted bool, err error)

	// Ping checks liveness of the address. The public key may be nil if unknown. The responder must hold a token.
	Ping(ctx context.Context, address protocol.Address, publicKey *btcec.PublicKey) (responder *protocol.ExtendedNode, err error)
}

// TaskRunner runs tasks with bounded concurrency. See workers.Pool.
type TaskRunner interface {
	Go(ctx context.Context, task func()) error
}

// Config contains the tunables of the DHT
type Config struct {
	BucketSize        int           // K, the maximum number of contacts stored in a bucket
	Alpha             int           // Degree of parallelism in lookups and size of the best set
	LookupFanout      int           // Count of candidates collected per trie branch
	RequestTimeout    time.Duration // Timeout for a single request to a peer
	MigrationInterval time.Duration // Interval of the key migrator
	MaxValues         int           // Maximum count of values returned per key
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		BucketSize:        20,
		Alpha:             3,
		LookupFanout:      3,
		RequestTimeout:    2 * time.Second,
		MigrationInterval: 10 * time.Minute,
		MaxValues:         20,
	}
}

// LogFunc is the signature of logging hooks
type LogFunc func(function, format string, v ...interface{})

func logNothing(function, format string, v ...interface{}) {}
