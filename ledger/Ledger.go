/*
File Name:  Ledger.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The ledger records the proof of work tokens of all nodes. Its block hashes are the seeds of the DHT epochs.
The DHT only depends on the Oracle interface. Chain is the local implementation, Remote queries the ledger of another node.
*/

package ledger

import (
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/zeebo/errs"
)

// Error is the error class of the ledger
var Error = errs.Class("ledger")

// Header is the summary of a single block
type Header struct {
	Number       int64     // Block number
	Hash         []byte    // Hash of the encoded block. This is the seed if the block is an epoch boundary.
	PreviousHash []byte    // Hash of the previous block
	Timestamp    time.Time // When the block was sealed
	TokenCount   int       // Count of tokens recorded in the block
}

// Oracle is the blockchain-shaped view the DHT depends on.
type Oracle interface {
	// LatestBlockNumber returns the number of the most recent block. -1 if the ledger is empty.
	LatestBlockNumber() int64

	// BlockHashAt returns the hash of the block. Nil if the block does not exist.
	BlockHashAt(number int64) []byte

	// BlockHeaderAt returns the header of the block if it exists.
	BlockHeaderAt(number int64) (header *Header, found bool)

	// IsTransactionRecordedAt checks if the token is recorded in the given block.
	IsTransactionRecordedAt(number int64, token *protocol.Token) bool

	// LastRecordedBlockOf returns the block number at which the token is recorded. -1 if not recorded.
	LastRecordedBlockOf(token *protocol.Token) int64

	// Submit queues the token for inclusion in a future block.
	Submit(token *protocol.Token) error
}
