/*
File Name:  Token.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

A token is the ledger transaction proving that the owner of the ID spent work on the seed of an epoch.

Encoding of a token:
Offset  Size   Info
0       32     Node ID
32      8      Nonce
40      8      Seed block number
48      33     Public key compressed
*/

package protocol

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec"
	"github.com/zeebo/errs"
)

// TokenSize is the size of an encoded token
const TokenSize = HashSize + 8 + 8 + btcec.PubKeyBytesLenCompressed

// ErrToken is the error class for undecodable tokens
var ErrToken = errs.Class("invalid token")

// Token is the proof of work credential of a node for a seed epoch.
type Token struct {
	ID              ID               // Node ID of the owner
	Nonce           int64            // Nonce satisfying the difficulty
	SeedBlockNumber int64            // Block number of the seed that was used for the proof of work
	PublicKey       *btcec.PublicKey // Public key of the owner
}

// Encode returns the binary form of the token.
func (token *Token) Encode() (raw []byte) {
	raw = make([]byte, TokenSize)
	copy(raw[0:HashSize], token.ID[:])
	binary.LittleEndian.PutUint64(raw[32:40], uint64(token.Nonce))
	binary.LittleEndian.PutUint64(raw[40:48], uint64(token.SeedBlockNumber))
	copy(raw[48:48+btcec.PubKeyBytesLenCompressed], token.PublicKey.SerializeCompressed())
	return raw
}

// DecodeToken decodes a binary token
func DecodeToken(raw []byte) (token *Token, err error) {
	if len(raw) != TokenSize {
		return nil, ErrToken.New("size %d", len(raw))
	}

	token = &Token{}
	copy(token.ID[:], raw[0:HashSize])
	token.Nonce = int64(binary.LittleEndian.Uint64(raw[32:40]))
	token.SeedBlockNumber = int64(binary.LittleEndian.Uint64(raw[40:48]))

	if token.PublicKey, err = btcec.ParsePubKey(raw[48:48+btcec.PubKeyBytesLenCompressed], btcec.S256()); err != nil {
		return nil, ErrToken.Wrap(err)
	}

	return token, nil
}

// Hash returns the transaction hash of the token. It identifies the token in the ledger.
func (token *Token) Hash() ID {
	var hash ID
	copy(hash[:], HashData(token.Encode()))
	return hash
}

// Equal checks if both tokens carry the same fields.
func (token *Token) Equal(other *Token) bool {
	if token == nil || other == nil {
		return token == other
	}
	return token.ID == other.ID && token.Nonce == other.Nonce && token.SeedBlockNumber == other.SeedBlockNumber && publicKeysEqual(token.PublicKey, other.PublicKey)
}

func publicKeysEqual(a, b *btcec.PublicKey) bool {
	if a == nil || b == nil {
		return a == b
	}
	return bytes.Equal(a.SerializeCompressed(), b.SerializeCompressed())
}
