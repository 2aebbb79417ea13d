/*
File Name:  Chain.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Chain is a local append-only token ledger. All blocks and the header are stored in a key-value database.
The key for the header is keyHeader and for each block is the block number as 64-bit unsigned integer little endian.

Encoding of the header:
Offset  Size   Info
0       8      Height of the chain (count of blocks)
8       65     Signature

Block 0 (genesis) is created on first use and contains no tokens.
*/

package ledger

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/PeernetOfficial/seeddht/store"
	"github.com/btcsuite/btcd/btcec"
)

// Chain is the local ledger. It implements Oracle.
type Chain struct {
	height     uint64                          // Count of blocks
	hashes     [][]byte                        // Hash of every block, index = block number
	tokenIndex map[protocol.ID]int64           // Token hash -> block number
	mempool    map[protocol.ID]*protocol.Token // Submitted tokens not yet recorded

	// LogError is called for errors in the block producer. It must be set before Start.
	LogError func(function, format string, v ...interface{})

	publicKey  *btcec.PublicKey  // Public Key of the producer. This must match the one used on disk.
	privateKey *btcec.PrivateKey // Private Key of the producer
	database   store.Store       // The database storing the chain

	started  atomic.Bool
	closeReq chan struct{}
	closed   chan struct{}
	stopOnce sync.Once

	sync.RWMutex // synchronized access to the chain
}

// the key names in the key-value database are constant and must not collide with block numbers (i.e. they must be >64 bit)
const keyHeader = "header ledger chain"

const chainHeaderSize = 8 + 65

// Open opens the chain stored in the database. It creates the genesis block if the database is empty.
func Open(privateKey *btcec.PrivateKey, database store.Store) (chain *Chain, err error) {
	chain = &Chain{
		privateKey: privateKey,
		publicKey:  privateKey.PubKey(),
		database:   database,
		tokenIndex: make(map[protocol.ID]int64),
		mempool:    make(map[protocol.ID]*protocol.Token),
		LogError:   func(function, format string, v ...interface{}) {},
		closeReq:   make(chan struct{}),
		closed:     make(chan struct{}),
	}

	found, err := chain.headerRead()
	if err != nil {
		return nil, err // likely corrupt database
	} else if !found {
		// First run: create the genesis block
		if _, err = chain.appendBlock(nil); err != nil {
			return nil, err
		}
		return chain, nil
	}

	if err = chain.loadBlocks(); err != nil {
		return nil, err
	}

	return chain, nil
}

// headerRead reads the header and verifies the producer.
func (chain *Chain) headerRead() (found bool, err error) {
	buffer, found := chain.database.Get([]byte(keyHeader))
	if !found {
		return false, nil
	}

	if len(buffer) != chainHeaderSize {
		return true, Error.New("header size mismatch")
	}

	chain.height = binary.LittleEndian.Uint64(buffer[0:8])

	publicKey, _, err := btcec.RecoverCompact(btcec.S256(), buffer[8:8+65], protocol.HashData(buffer[0:8]))
	if err != nil {
		return true, Error.Wrap(err)
	} else if !publicKey.IsEqual(chain.publicKey) {
		return true, Error.New("corrupt ledger database. Public key mismatch")
	}

	return true, nil
}

// headerWrite writes the header and signs it.
func (chain *Chain) headerWrite(height uint64) (err error) {
	var buffer [chainHeaderSize]byte
	binary.LittleEndian.PutUint64(buffer[0:8], height)

	signature, err := btcec.SignCompact(btcec.S256(), chain.privateKey, protocol.HashData(buffer[0:8]), true)
	if err != nil {
		return Error.Wrap(err)
	} else if len(signature) != 65 {
		return Error.New("signature length invalid")
	}

	copy(buffer[8:8+65], signature)

	return chain.database.Set([]byte(keyHeader), buffer[:])
}

// blockNumberToKey returns the database key for the given block number
func blockNumberToKey(number uint64) (key []byte) {
	var target [8]byte
	binary.LittleEndian.PutUint64(target[:], number)

	return target[:]
}

// loadBlocks reads all blocks, verifies the hash chain and rebuilds the token index.
func (chain *Chain) loadBlocks() (err error) {
	var lastHash []byte

	for number := uint64(0); number < chain.height; number++ {
		raw, found := chain.database.Get(blockNumberToKey(number))
		if !found || len(raw) == 0 {
			return Error.New("block %d not found", number)
		}

		block, err := decodeBlock(raw)
		if err != nil {
			return err
		} else if block.Number != number {
			return Error.New("block %d has invalid number %d", number, block.Number)
		} else if number > 0 && !bytes.Equal(block.LastBlockHash, lastHash) {
			return Error.New("block %d does not link to the previous block", number)
		}

		for n := range block.Tokens {
			chain.tokenIndex[block.Tokens[n].Hash()] = int64(number)
		}

		lastHash = protocol.HashData(raw)
		chain.hashes = append(chain.hashes, lastHash)
	}

	return nil
}

// appendBlock appends a new block with the tokens. The caller must hold the lock (or have exclusive access).
func (chain *Chain) appendBlock(tokens []protocol.Token) (number int64, err error) {
	block := &Block{Number: chain.height, Tokens: tokens}
	if chain.height > 0 {
		block.LastBlockHash = chain.hashes[chain.height-1]
	}

	raw, err := encodeBlock(block, chain.privateKey)
	if err != nil {
		return -1, err
	}

	if err = chain.database.Set(blockNumberToKey(block.Number), raw); err != nil {
		return -1, err
	}
	if err = chain.headerWrite(chain.height + 1); err != nil {
		return -1, err
	}

	for n := range tokens {
		chain.tokenIndex[tokens[n].Hash()] = int64(block.Number)
	}

	chain.hashes = append(chain.hashes, protocol.HashData(raw))
	chain.height++

	return int64(block.Number), nil
}

// SealBlock appends a block with all pending tokens that are not yet recorded. Blocks may be empty.
func (chain *Chain) SealBlock() (number int64, err error) {
	chain.Lock()
	defer chain.Unlock()

	var tokens []protocol.Token
	for hash, token := range chain.mempool {
		if _, recorded := chain.tokenIndex[hash]; !recorded {
			tokens = append(tokens, *token)
		}
		delete(chain.mempool, hash)
	}

	// Deterministic order of tokens within a block
	sort.Slice(tokens, func(i, j int) bool {
		hi, hj := tokens[i].Hash(), tokens[j].Hash()
		return bytes.Compare(hi[:], hj[:]) < 0
	})

	return chain.appendBlock(tokens)
}

// ---- Oracle implementation ----

// LatestBlockNumber returns the number of the most recent block.
func (chain *Chain) LatestBlockNumber() int64 {
	chain.RLock()
	defer chain.RUnlock()

	return int64(chain.height) - 1
}

// BlockHashAt returns the hash of the block. Nil if the block does not exist.
func (chain *Chain) BlockHashAt(number int64) []byte {
	chain.RLock()
	defer chain.RUnlock()

	if number < 0 || number >= int64(chain.height) {
		return nil
	}
	return chain.hashes[number]
}

// BlockHeaderAt returns the header of the block if it exists.
func (chain *Chain) BlockHeaderAt(number int64) (header *Header, found bool) {
	block, hash, found := chain.BlockAt(number)
	if !found {
		return nil, false
	}
	return block.header(hash), true
}

// BlockAt returns the decoded block.
func (chain *Chain) BlockAt(number int64) (block *Block, hash []byte, found bool) {
	chain.RLock()
	defer chain.RUnlock()

	if number < 0 || number >= int64(chain.height) {
		return nil, nil, false
	}

	raw, found := chain.database.Get(blockNumberToKey(uint64(number)))
	if !found {
		return nil, nil, false
	}

	block, err := decodeBlock(raw)
	if err != nil {
		return nil, nil, false
	}

	return block, chain.hashes[number], true
}

// IsTransactionRecordedAt checks if the token is recorded in the given block.
func (chain *Chain) IsTransactionRecordedAt(number int64, token *protocol.Token) bool {
	recorded := chain.LastRecordedBlockOf(token)
	return recorded >= 0 && recorded == number
}

// LastRecordedBlockOf returns the block number at which the token is recorded. -1 if not recorded.
func (chain *Chain) LastRecordedBlockOf(token *protocol.Token) int64 {
	if token == nil || token.PublicKey == nil {
		return -1
	}

	chain.RLock()
	defer chain.RUnlock()

	if number, ok := chain.tokenIndex[token.Hash()]; ok {
		return number
	}
	return -1
}

// Submit queues the token for the next block. Tokens for unknown seeds are rejected.
func (chain *Chain) Submit(token *protocol.Token) error {
	if token == nil || token.PublicKey == nil {
		return Error.New("submit: invalid token")
	}

	chain.Lock()
	defer chain.Unlock()

	if token.SeedBlockNumber < 0 || token.SeedBlockNumber >= int64(chain.height) {
		return Error.New("submit: seed block %d unknown", token.SeedBlockNumber)
	}

	hash := token.Hash()
	if _, recorded := chain.tokenIndex[hash]; recorded {
		return nil
	}

	tokenCopy := *token
	chain.mempool[hash] = &tokenCopy

	return nil
}

// PendingCount returns the count of submitted tokens not yet recorded.
func (chain *Chain) PendingCount() int {
	chain.RLock()
	defer chain.RUnlock()

	return len(chain.mempool)
}

// ---- block producer ----

// Start seals a block every interval until Stop is called.
func (chain *Chain) Start(interval time.Duration) {
	if chain.started.Swap(true) {
		return
	}
	go chain.loop(interval)
}

func (chain *Chain) loop(interval time.Duration) {
	defer close(chain.closed)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-chain.closeReq:
			return
		case <-ticker.C:
			if _, err := chain.SealBlock(); err != nil {
				chain.LogError("Chain.loop", "sealing block: %v\n", err)
			}
		}
	}
}

// Stop stops the block producer and waits for it to exit. It is safe to call multiple times.
func (chain *Chain) Stop() {
	chain.stopOnce.Do(func() {
		close(chain.closeReq)
		if chain.started.Load() {
			<-chain.closed
		}
	})
}

// Close stops the block producer and closes the database.
func (chain *Chain) Close() error {
	chain.Stop()
	return chain.database.Close()
}
