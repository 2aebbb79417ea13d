/*
File Name:  Store.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The key holder is the local key/value store. It is epoch-windowed: Keys are bound to the seed via their ID.
Three generations are kept, each bound to a seed. When the seed changes, the generations rotate:
firstInvalid <- last, last <- current, current <- new empty generation.
Values are accepted for the current and the last generation. The first invalid generation is never read; it is only kept until the next rotation.
*/

package dht

import (
	"bytes"
	"math/rand"
	"sync"

	"github.com/PeernetOfficial/seeddht/protocol"
	mapset "github.com/deckarep/golang-set/v2"
)

type keyEntry struct {
	key          protocol.Key
	values       []protocol.Value
	fingerprints mapset.Set[string]
}

type generation struct {
	seed   []byte
	hasher *protocol.SeedHasher // nil if the seed is unknown
	keys   map[protocol.ID]*keyEntry
}

func newGeneration(seed []byte) *generation {
	g := &generation{seed: seed, keys: make(map[protocol.ID]*keyEntry)}
	if seed != nil {
		g.hasher = protocol.NewSeedHasher(seed)
	}
	return g
}

// validates checks if the key ID is the hash of the key text under the seed of this generation.
func (g *generation) validates(key protocol.Key) bool {
	return g.hasher != nil && key.IsValidFor(g.hasher)
}

// add adds the value. Returns false if it was already present.
func (g *generation) add(key protocol.Key, value protocol.Value) bool {
	entry, ok := g.keys[key.ID]
	if !ok {
		entry = &keyEntry{key: key, fingerprints: mapset.NewThreadUnsafeSet[string]()}
		g.keys[key.ID] = entry
	}

	if !entry.fingerprints.Add(value.Fingerprint()) {
		return false
	}
	entry.values = append(entry.values, value)
	return true
}

func (g *generation) remove(key protocol.Key, value protocol.Value) bool {
	entry, ok := g.keys[key.ID]
	if !ok || !entry.key.Equal(key) || !entry.fingerprints.Contains(value.Fingerprint()) {
		return false
	}

	entry.fingerprints.Remove(value.Fingerprint())
	for n := range entry.values {
		if entry.values[n].Equal(value) {
			entry.values = append(entry.values[:n], entry.values[n+1:]...)
			break
		}
	}
	if len(entry.values) == 0 {
		delete(g.keys, key.ID)
	}
	return true
}

// KeyHolder is the epoch-windowed key/value store
type KeyHolder struct {
	oracle    SeedOracle
	maxValues int

	seed                        []byte // Cached current seed
	current, last, firstInvalid *generation

	mutex sync.Mutex
}

// NewKeyHolder creates the store. The generations are bound to the current and last seed of the oracle.
func NewKeyHolder(oracle SeedOracle, maxValues int) *KeyHolder {
	seed := oracle.CurrentSeed()
	return &KeyHolder{
		oracle:       oracle,
		maxValues:    maxValues,
		seed:         seed,
		current:      newGeneration(seed),
		last:         newGeneration(oracle.LastSeed()),
		firstInvalid: newGeneration(nil),
	}
}

// rotate rotates the generations if the seed changed. The caller must hold the lock.
func (holder *KeyHolder) rotate() {
	seed := holder.oracle.CurrentSeed()
	if bytes.Equal(seed, holder.seed) {
		return
	}

	holder.firstInvalid = holder.last
	holder.last = holder.current
	holder.current = newGeneration(seed)
	holder.seed = seed
}

// Store stores the value in every generation the key is valid for. It returns true if the value was stored or is already present.
func (holder *KeyHolder) Store(key protocol.Key, value protocol.Value) bool {
	holder.mutex.Lock()
	defer holder.mutex.Unlock()

	holder.rotate()

	stored := false
	for _, g := range []*generation{holder.current, holder.last} {
		if g.validates(key) {
			g.add(key, value)
			stored = true
		}
	}
	return stored
}

// Get returns the values of the key. The current generation is tried first, then the last one.
// Keys without text are matched by ID only. At most maxValues values are returned, randomly selected.
func (holder *KeyHolder) Get(key protocol.Key) (values []protocol.Value, found bool) {
	holder.mutex.Lock()
	defer holder.mutex.Unlock()

	holder.rotate()

	for _, g := range []*generation{holder.current, holder.last} {
		entry, ok := g.keys[key.ID]
		if !ok || len(entry.values) == 0 || !entry.key.Equal(key) {
			continue
		}

		return subsample(entry.values, holder.maxValues), true
	}

	return nil, false
}

// Delete removes the value from all generations. It returns true if it was removed from any.
func (holder *KeyHolder) Delete(key protocol.Key, value protocol.Value) bool {
	holder.mutex.Lock()
	defer holder.mutex.Unlock()

	holder.rotate()

	removed := false
	for _, g := range []*generation{holder.current, holder.last, holder.firstInvalid} {
		if g.remove(key, value) {
			removed = true
		}
	}
	return removed
}

// Keys returns all keys that are held in the current or last generation.
func (holder *KeyHolder) Keys() (keys []protocol.Key) {
	holder.mutex.Lock()
	defer holder.mutex.Unlock()

	holder.rotate()

	seen := mapset.NewThreadUnsafeSet[protocol.ID]()
	for _, g := range []*generation{holder.current, holder.last} {
		for id, entry := range g.keys {
			if seen.Add(id) {
				keys = append(keys, entry.key)
			}
		}
	}
	return keys
}

// Count returns the count of keys and values per generation: current, last, first invalid.
func (holder *KeyHolder) Count() (keys, values [3]int) {
	holder.mutex.Lock()
	defer holder.mutex.Unlock()

	for n, g := range []*generation{holder.current, holder.last, holder.firstInvalid} {
		keys[n] = len(g.keys)
		for _, entry := range g.keys {
			values[n] += len(entry.values)
		}
	}
	return keys, values
}

// subsample returns a copy of the values. If there are more than max, a random selection is returned.
func subsample(values []protocol.Value, max int) []protocol.Value {
	if max <= 0 || len(values) <= max {
		result := make([]protocol.Value, len(values))
		copy(result, values)
		return result
	}

	result := make([]protocol.Value, 0, max)
	for _, index := range rand.Perm(len(values))[:max] {
		result = append(result, values[index])
	}
	return result
}

// all returns all values of the key from the current or last generation, without cap.
func (holder *KeyHolder) all(key protocol.Key) []protocol.Value {
	holder.mutex.Lock()
	defer holder.mutex.Unlock()

	for _, g := range []*generation{holder.current, holder.last} {
		if entry, ok := g.keys[key.ID]; ok && len(entry.values) > 0 && entry.key.Equal(key) {
			return subsample(entry.values, 0)
		}
	}
	return nil
}
