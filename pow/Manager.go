/*
File Name:  Manager.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The proof of work manager mines the identity tokens of the local node. A token is valid for a seed epoch if the seed-bound hash of ID || nonce
satisfies the difficulty. Nonces are scanned from the minimum int64 upward, so the same ID and seed always produce the same token.
Concurrent requests for the same seed block share a single search.
*/

package pow

import (
	"context"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PeernetOfficial/seeddht/ledger"
	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/PeernetOfficial/seeddht/workers"
	"github.com/btcsuite/btcd/btcec"
	"github.com/zeebo/errs"
	"golang.org/x/sync/singleflight"
)

// ErrTokenNotFound is returned if no token is available for the seed block yet
var ErrTokenNotFound = errs.Class("token not found")

// ErrMiningFailed is returned if the entire nonce space was searched without a match
var ErrMiningFailed = errs.Class("mining failed")

// ErrSeedUnknown is returned if the ledger does not know the seed block
var ErrSeedUnknown = errs.Class("seed unknown")

// Epochs provides the seed epochs derived from the ledger
type Epochs interface {
	// SeedBlocks returns the current and future seed block numbers. The future seed is only known once the ledger reached it.
	SeedBlocks() (current, future int64, futureKnown bool)

	// Window returns the half-open range [from, to) of block numbers at which recorded tokens are valid.
	Window() (from, to int64)
}

// Config contains the tunables of the manager
type Config struct {
	Difficulty    protocol.Difficulty
	CacheSize     int           // Count of mined tokens kept
	MonitorPeriod time.Duration // Period of the seeds monitor, usually the block interval
}

// Manager mines, caches and submits tokens of the local node.
type Manager struct {
	id        protocol.ID
	publicKey *btcec.PublicKey
	oracle    ledger.Oracle
	epochs    Epochs
	pool      *workers.Pool
	config    Config

	cache    *tokenCache
	research singleflight.Group

	// submitted tokens per seed block and the block they are confirmed at (-1 if not yet)
	submitted      map[int64]*submission
	submittedMutex sync.Mutex

	active atomic.Pointer[ActiveToken]

	// LogError is called for mining and submission errors. It must be set before Start.
	LogError func(function, format string, v ...interface{})

	// Promoted is called when the active token changes. Nil if no recorded token is valid anymore. It must be set before Start.
	Promoted func(active *ActiveToken)

	started  atomic.Bool
	closeReq chan struct{}
	closed   chan struct{}
	stopOnce sync.Once
}

type submission struct {
	token       *protocol.Token
	blockNumber int64
}

// ActiveToken is the token that currently serves as identity credential, with the block it was recorded at.
type ActiveToken struct {
	Token       protocol.Token
	BlockNumber int64
}

// NewManager creates a new manager for the node identified by the public key. Mining runs in the pool.
func NewManager(publicKey *btcec.PublicKey, oracle ledger.Oracle, epochs Epochs, pool *workers.Pool, config Config) *Manager {
	return &Manager{
		id:        protocol.PublicKey2NodeID(publicKey),
		publicKey: publicKey,
		oracle:    oracle,
		epochs:    epochs,
		pool:      pool,
		config:    config,
		cache:     newTokenCache(config.CacheSize),
		submitted: make(map[int64]*submission),
		LogError:  func(function, format string, v ...interface{}) {},
		Promoted:  func(active *ActiveToken) {},
		closeReq:  make(chan struct{}),
		closed:    make(chan struct{}),
	}
}

// GetToken returns the cached token for the seed block
func (manager *Manager) GetToken(seedBlockNumber int64) (token *protocol.Token, err error) {
	if pair, found := manager.cache.get(seedBlockNumber); found {
		return pair.Token, nil
	}
	return nil, ErrTokenNotFound.New("seed block %d", seedBlockNumber)
}

// RequestTokenGeneration starts mining a token for the seed block in the background, unless it is cached or already being mined.
func (manager *Manager) RequestTokenGeneration(seedBlockNumber int64) {
	if _, err := manager.GetToken(seedBlockNumber); err == nil {
		return
	}
	manager.startResearch(seedBlockNumber)
}

// BlockingGetToken returns the token for the seed block. If it is not cached, it waits until mined.
func (manager *Manager) BlockingGetToken(ctx context.Context, seedBlockNumber int64) (token *protocol.Token, err error) {
	if token, err = manager.GetToken(seedBlockNumber); err == nil {
		return token, nil
	}

	select {
	case result := <-manager.startResearch(seedBlockNumber):
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.(*protocol.Token), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ActiveToken returns the promoted token. Nil if none.
func (manager *Manager) ActiveToken() *ActiveToken {
	return manager.active.Load()
}

// Tokens returns all cached tokens, oldest first
func (manager *Manager) Tokens() []TokenPair {
	return manager.cache.list()
}

// startResearch joins the search for the seed block or starts a new one. The returned channel receives the result once.
func (manager *Manager) startResearch(seedBlockNumber int64) <-chan singleflight.Result {
	return manager.research.DoChan(strconv.FormatInt(seedBlockNumber, 10), func() (interface{}, error) {
		if token, err := manager.GetToken(seedBlockNumber); err == nil {
			return token, nil
		}

		var token *protocol.Token
		var errMine error
		done := make(chan struct{})

		ctx := manager.pool.Context()
		if err := manager.pool.Go(ctx, func() {
			defer close(done)
			token, errMine = manager.mine(ctx, seedBlockNumber)
		}); err != nil {
			return nil, err
		}
		<-done

		if errMine != nil {
			manager.LogError("Manager.startResearch", "seed block %d: %v\n", seedBlockNumber, errMine)
			return nil, errMine
		}

		manager.cache.add(TokenPair{SeedBlockNumber: seedBlockNumber, Token: token})
		return token, nil
	})
}

// mine scans the nonce space from the minimum upward until the difficulty is satisfied.
func (manager *Manager) mine(ctx context.Context, seedBlockNumber int64) (token *protocol.Token, err error) {
	seed := manager.oracle.BlockHashAt(seedBlockNumber)
	if seed == nil {
		return nil, ErrSeedUnknown.New("seed block %d", seedBlockNumber)
	}

	nonce, err := Mine(ctx, manager.id, protocol.NewSeedHasher(seed), manager.config.Difficulty)
	if err != nil {
		return nil, err
	}

	return &protocol.Token{ID: manager.id, Nonce: nonce, SeedBlockNumber: seedBlockNumber, PublicKey: manager.publicKey}, nil
}

// Mine finds the first nonce from the minimum int64 upward that satisfies the difficulty for the ID under the hasher.
func Mine(ctx context.Context, id protocol.ID, hasher protocol.Hasher, difficulty protocol.Difficulty) (nonce int64, err error) {
	for nonce = math.MinInt64; ; nonce++ {
		if difficulty.IsValid(id, nonce, hasher) {
			return nonce, nil
		}

		if nonce&0xffff == 0 && ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if nonce == math.MaxInt64 {
			return 0, ErrMiningFailed.New("nonce space exhausted")
		}
	}
}
