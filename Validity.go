/*
File Name:  Validity.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

A node is an old worker if:
1. Its token was recorded inside the valid age window. Tokens recorded at or after the last seed are too young, tokens older than η epochs are too old.
2. The ledger confirms the token at the claimed block.
3. The nonce satisfies the difficulty under the seed the token was mined for.
Checks 2 and 3 only depend on the token and the block, so confirmed results are cached. Negative results are not cached since the ledger may have been unreachable.
*/

package core

import (
	"github.com/PeernetOfficial/seeddht/ledger"
	"github.com/PeernetOfficial/seeddht/protocol"
	lru "github.com/hashicorp/golang-lru"
)

// Validator checks the tokens of nodes. It implements dht.Validator.
type Validator struct {
	epochs     *Epochs
	oracle     ledger.Oracle
	difficulty protocol.Difficulty
	confirmed  *lru.Cache
}

type validityKey struct {
	token protocol.ID
	block int64
}

// NewValidator creates a validator. The cache holds the count of confirmed tokens.
func NewValidator(epochs *Epochs, oracle ledger.Oracle, difficulty protocol.Difficulty, cacheSize int) (*Validator, error) {
	confirmed, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Validator{epochs: epochs, oracle: oracle, difficulty: difficulty, confirmed: confirmed}, nil
}

// IsOldWorker checks if the node holds a valid token inside the age window
func (validator *Validator) IsOldWorker(node *protocol.ExtendedNode) bool {
	if node == nil || !validator.epochs.IsInWindow(node.TokenBlockNumber()) {
		return false
	}
	return validator.isRecordedWork(node.Token(), node.TokenBlockNumber())
}

// AreCorrectlyOld checks multiple nodes. The result contains an entry for every node ID.
func (validator *Validator) AreCorrectlyOld(nodes []*protocol.ExtendedNode) (result map[protocol.ID]bool) {
	result = make(map[protocol.ID]bool, len(nodes))
	if len(nodes) == 0 {
		return result
	}

	from, to := validator.epochs.Window()
	for _, node := range nodes {
		block := node.TokenBlockNumber()
		result[node.ID()] = block >= from && block < to && validator.isRecordedWork(node.Token(), block)
	}
	return result
}

// isRecordedWork checks if the ledger records the token at the block and the nonce satisfies the difficulty.
func (validator *Validator) isRecordedWork(token protocol.Token, block int64) bool {
	key := validityKey{token: token.Hash(), block: block}
	if _, ok := validator.confirmed.Get(key); ok {
		return true
	}

	if !validator.oracle.IsTransactionRecordedAt(block, &token) {
		return false
	}

	seed := validator.oracle.BlockHashAt(token.SeedBlockNumber)
	if seed == nil || !validator.difficulty.IsValid(token.ID, token.Nonce, protocol.NewSeedHasher(seed)) {
		return false
	}

	validator.confirmed.Add(key, true)
	return true
}
