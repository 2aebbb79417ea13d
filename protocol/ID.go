/*
File Name:  ID.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

IDs identify nodes and keys in the DHT. The distance between two IDs is their XOR interpreted as big unsigned integer.
*/

package protocol

import (
	"encoding/hex"
	"math/big"

	"github.com/zeebo/errs"
)

// ID is a fixed length identifier with the length of the hash digest.
type ID [HashSize]byte

// IDBits is the count of bits in an ID
const IDBits = HashSize * 8

// ErrID is the error class for malformed identifiers
var ErrID = errs.Class("invalid id")

// IDFromBytes copies the raw bytes into an ID. The length must match.
func IDFromBytes(raw []byte) (id ID, err error) {
	if len(raw) != HashSize {
		return id, ErrID.New("length %d, expected %d", len(raw), HashSize)
	}
	copy(id[:], raw)
	return id, nil
}

// IDFromHex decodes a hex encoded ID.
func IDFromHex(text string) (id ID, err error) {
	raw, err := hex.DecodeString(text)
	if err != nil {
		return id, ErrID.Wrap(err)
	}
	return IDFromBytes(raw)
}

// String returns the hex encoded ID
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns a copy of the raw ID
func (id ID) Bytes() []byte {
	raw := make([]byte, HashSize)
	copy(raw, id[:])
	return raw
}

// And masks the ID byte-wise. The mask may be shorter than the ID; bytes beyond the mask remain unchanged.
func (id ID) And(mask []byte) (result ID) {
	result = id
	for n := 0; n < len(mask) && n < HashSize; n++ {
		result[n] &= mask[n]
	}
	return result
}

// Bit returns the bit at the given position, starting with the most significant bit of the first byte.
func (id ID) Bit(position int) int {
	return int(id[position/8]>>(7-uint(position%8))) & 1
}

// IsZero checks if all bytes are zero
func (id ID) IsZero() bool {
	return id == ID{}
}

// Distance returns the XOR distance between the two IDs
func (id ID) Distance(other ID) *big.Int {
	var xor [HashSize]byte
	for n := range xor {
		xor[n] = id[n] ^ other[n]
	}
	return new(big.Int).SetBytes(xor[:])
}

// IsCloser checks if a is closer (= smaller distance) to the target than b.
func IsCloser(target, a, b ID) bool {
	return CompareDistance(target, a, b) < 0
}

// CompareDistance compares the distances of a and b to the target. It returns -1 if a is closer, 0 if equal, +1 if b is closer.
// Comparing byte by byte is equivalent to comparing the big integers but avoids the allocations.
func CompareDistance(target, a, b ID) int {
	for n := 0; n < HashSize; n++ {
		da := a[n] ^ target[n]
		db := b[n] ^ target[n]
		if da < db {
			return -1
		} else if da > db {
			return 1
		}
	}
	return 0
}
