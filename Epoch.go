/*
File Name:  Epoch.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The seed of an epoch is the hash of the block at the epoch boundary. A new seed becomes current only after a delay of blocks,
so nodes have time to mine tokens for it in advance:

current seed block = floor((latest - delay) / length) * length, at least 0
last seed block    = current - length
future seed block  = current + length, known once the ledger reached it

Tokens recorded in the half-open window [last - η * length, last) are valid.
*/

package core

import (
	"sync"
	"time"

	"github.com/PeernetOfficial/seeddht/ledger"
)

// Epochs derives the seed epochs from the ledger. The values are cached and refreshed when older than the refresh interval.
type Epochs struct {
	oracle      ledger.Oracle
	length      int64         // Count of blocks per epoch
	delay       int64         // Count of blocks a new seed is delayed
	maxTokenAge int64         // Count of epochs a token stays valid
	refresh     time.Duration // Maximum age of the cache

	updated          time.Time
	latest           int64
	currentSeedBlock int64
	currentSeed      []byte
	lastSeed         []byte

	sync.Mutex
}

// NewEpochs creates the epoch view of the ledger
func NewEpochs(oracle ledger.Oracle, length, delay, maxTokenAge int64, refresh time.Duration) *Epochs {
	if length < 1 {
		length = 1
	}
	if delay < 0 {
		delay = 0
	}
	if maxTokenAge < 1 {
		maxTokenAge = 1
	}

	return &Epochs{oracle: oracle, length: length, delay: delay, maxTokenAge: maxTokenAge, refresh: refresh}
}

// SeedBlockNumber returns the current seed block number for the latest block
func SeedBlockNumber(latest, delay, length int64) int64 {
	blocks := latest - delay
	if blocks < 0 {
		return 0
	}
	return blocks / length * length
}

// update refreshes the cache if expired. The caller must hold the lock.
// Once seeds are cached, a ledger that is unreachable, went backwards or lacks a seed block keeps the cached values and the update is retried on the next call.
func (epochs *Epochs) update() {
	if !epochs.updated.IsZero() && time.Since(epochs.updated) < epochs.refresh {
		return
	}

	cached := epochs.currentSeed != nil

	latest := epochs.oracle.LatestBlockNumber()
	if cached && (latest < 0 || latest < epochs.latest) {
		return
	}

	seedBlock := SeedBlockNumber(latest, epochs.delay, epochs.length)

	if seedBlock != epochs.currentSeedBlock || !cached {
		currentSeed := epochs.oracle.BlockHashAt(seedBlock)
		if currentSeed == nil && cached {
			return
		}

		var lastSeed []byte
		if seedBlock-epochs.length >= 0 {
			if lastSeed = epochs.oracle.BlockHashAt(seedBlock - epochs.length); lastSeed == nil && cached {
				return
			}
		}

		epochs.currentSeedBlock = seedBlock
		epochs.currentSeed = currentSeed
		epochs.lastSeed = lastSeed
	}

	epochs.latest = latest
	epochs.updated = time.Now()
}

// Refresh forces an update of the cache
func (epochs *Epochs) Refresh() {
	epochs.Lock()
	defer epochs.Unlock()

	epochs.updated = time.Time{}
	epochs.update()
}

// LatestBlockNumber returns the latest block number as cached
func (epochs *Epochs) LatestBlockNumber() int64 {
	epochs.Lock()
	defer epochs.Unlock()

	epochs.update()
	return epochs.latest
}

// CurrentSeedBlock returns the block number of the current seed
func (epochs *Epochs) CurrentSeedBlock() int64 {
	epochs.Lock()
	defer epochs.Unlock()

	epochs.update()
	return epochs.currentSeedBlock
}

// LastSeedBlock returns the block number of the last seed. It is negative during the first epoch.
func (epochs *Epochs) LastSeedBlock() int64 {
	return epochs.CurrentSeedBlock() - epochs.length
}

// FutureSeedBlock returns the block number of the next seed and whether the block exists yet.
func (epochs *Epochs) FutureSeedBlock() (number int64, known bool) {
	epochs.Lock()
	defer epochs.Unlock()

	epochs.update()
	number = epochs.currentSeedBlock + epochs.length
	return number, epochs.latest >= number
}

// CurrentSeed returns the seed bytes of the current epoch. Nil if the ledger is empty.
func (epochs *Epochs) CurrentSeed() []byte {
	epochs.Lock()
	defer epochs.Unlock()

	epochs.update()
	return epochs.currentSeed
}

// LastSeed returns the seed bytes of the last epoch. Nil during the first epoch.
func (epochs *Epochs) LastSeed() []byte {
	epochs.Lock()
	defer epochs.Unlock()

	epochs.update()
	return epochs.lastSeed
}

// SeedBlocks returns the current and the future seed block numbers
func (epochs *Epochs) SeedBlocks() (current, future int64, futureKnown bool) {
	future, futureKnown = epochs.FutureSeedBlock()
	return future - epochs.length, future, futureKnown
}

// Window returns the half-open range [from, to) of block numbers at which recorded tokens are valid.
func (epochs *Epochs) Window() (from, to int64) {
	to = epochs.LastSeedBlock()
	return to - epochs.maxTokenAge*epochs.length, to
}

// IsInWindow checks if a token recorded at the block is inside the valid age window.
func (epochs *Epochs) IsInWindow(tokenBlockNumber int64) bool {
	from, to := epochs.Window()
	return tokenBlockNumber >= from && tokenBlockNumber < to
}
