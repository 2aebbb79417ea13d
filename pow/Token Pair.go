/*
File Name:  Token Pair.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package pow

import (
	"sync"

	"github.com/PeernetOfficial/seeddht/protocol"
)

// TokenPair is a unit of work: the token mined for a seed epoch. Two pairs are equal if they target the same seed block.
type TokenPair struct {
	SeedBlockNumber int64
	Token           *protocol.Token // Nil while not yet mined
}

// Equal checks if both pairs target the same seed block. The token is irrelevant.
func (pair TokenPair) Equal(other TokenPair) bool {
	return pair.SeedBlockNumber == other.SeedBlockNumber
}

// tokenCache is a fixed-capacity FIFO list of mined tokens. The oldest entry is dropped when full.
type tokenCache struct {
	pairs    []TokenPair
	capacity int
	sync.Mutex
}

func newTokenCache(capacity int) *tokenCache {
	if capacity < 1 {
		capacity = 1
	}
	return &tokenCache{capacity: capacity}
}

// add adds the pair. An existing pair for the same seed block is replaced.
func (cache *tokenCache) add(pair TokenPair) {
	cache.Lock()
	defer cache.Unlock()

	for n := range cache.pairs {
		if cache.pairs[n].Equal(pair) {
			cache.pairs[n] = pair
			return
		}
	}

	if len(cache.pairs) >= cache.capacity {
		cache.pairs = cache.pairs[1:]
	}
	cache.pairs = append(cache.pairs, pair)
}

// get returns the pair for the seed block
func (cache *tokenCache) get(seedBlockNumber int64) (pair TokenPair, found bool) {
	cache.Lock()
	defer cache.Unlock()

	search := TokenPair{SeedBlockNumber: seedBlockNumber}
	for _, pair := range cache.pairs {
		if pair.Equal(search) && pair.Token != nil {
			return pair, true
		}
	}
	return search, false
}

// list returns a copy of all pairs, oldest first
func (cache *tokenCache) list() []TokenPair {
	cache.Lock()
	defer cache.Unlock()

	pairs := make([]TokenPair, len(cache.pairs))
	copy(pairs, cache.pairs)
	return pairs
}
