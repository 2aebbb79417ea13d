/*
File Name:  Hash.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package protocol

import (
	"github.com/btcsuite/btcd/btcec"
	"lukechampine.com/blake3"
)

// HashData abstracts the hash function.
func HashData(data []byte) (hash []byte) {
	hash32 := blake3.Sum256(data)
	return hash32[:]
}

// HashSize is blake3 hash digest size = 256 bits
const HashSize = 32

// PublicKey2NodeID translates the Public Key into the node ID used in the Kademlia network.
// It is also referenced in the ledger tokens. The node ID identifies the owner.
func PublicKey2NodeID(publicKey *btcec.PublicKey) (nodeID ID) {
	return blake3.Sum256(publicKey.SerializeCompressed())
}

// Hasher is a hash function. Seed-bound hashers are used for key IDs and the proof of work.
type Hasher interface {
	Sum(data []byte) []byte
}

// SeedHasher is a keyed blake3 hash function bound to a seed (a ledger block hash).
// Two hashers are equal if and only if their seeds are equal.
type SeedHasher struct {
	key [32]byte
}

// NewSeedHasher returns the hash function bound to the given seed bytes.
func NewSeedHasher(seed []byte) *SeedHasher {
	return &SeedHasher{key: blake3.Sum256(seed)}
}

// Sum returns the keyed hash of the data. It is safe for concurrent use.
func (hasher *SeedHasher) Sum(data []byte) []byte {
	h := blake3.New(HashSize, hasher.key[:])
	h.Write(data)
	return h.Sum(nil)
}

// SumID is like Sum but returns the digest as ID.
func (hasher *SeedHasher) SumID(data []byte) (id ID) {
	copy(id[:], hasher.Sum(data))
	return id
}
