/*
File Name:  Difficulty.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The difficulty is a global mask. A nonce is valid for an ID if the seed-bound hash of ID || nonce has all bits of the mask cleared.
This is the same target check the ledger applies to its blocks.
*/

package protocol

import (
	"encoding/binary"
)

// Difficulty is the proof of work target. It is immutable.
type Difficulty struct {
	target []byte
}

// NewDifficulty creates a target mask requiring the given count of leading zero bits.
func NewDifficulty(bits int) Difficulty {
	if bits < 0 {
		bits = 0
	} else if bits > IDBits {
		bits = IDBits
	}

	target := make([]byte, (bits+7)/8)
	for n := 0; n < bits; n++ {
		target[n/8] |= 0x80 >> uint(n%8)
	}

	return Difficulty{target: target}
}

// Target returns a copy of the mask
func (difficulty Difficulty) Target() []byte {
	target := make([]byte, len(difficulty.target))
	copy(target, difficulty.target)
	return target
}

// IsValid checks if the nonce satisfies the target for the ID under the given hasher.
func (difficulty Difficulty) IsValid(id ID, nonce int64, hasher Hasher) bool {
	var hash ID
	copy(hash[:], hasher.Sum(ProofInput(id, nonce)))

	masked := hash.And(difficulty.target)
	for n := range difficulty.target {
		if masked[n] != 0 {
			return false
		}
	}
	return true
}

// ProofInput returns ID || nonce (little endian) which is hashed for the proof of work.
func ProofInput(id ID, nonce int64) (input []byte) {
	input = make([]byte, HashSize+8)
	copy(input, id[:])
	binary.LittleEndian.PutUint64(input[HashSize:], uint64(nonce))
	return input
}
