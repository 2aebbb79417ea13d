/*
File Name:  Block.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Encoding of a block (it is the same stored in the database and returned to remote oracles):
Offset  Size   Info
0       65     Signature of entire block by the producer
65      32     Hash (blake3) of last block. 0 for first one.
97      8      Block number
105     8      Timestamp, Unix seconds
113     4      Size of entire block including this header
117     2      Count of tokens that follow
119     81*n   Tokens

*/

package ledger

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/btcsuite/btcd/btcec"
)

// Block is a single block containing a set of tokens.
type Block struct {
	ProducerPublicKey *btcec.PublicKey // Public key of the producer, recovered from the signature
	LastBlockHash     []byte           // Hash of the last block. Blake3.
	Number            uint64           // Block number
	Timestamp         time.Time        // When the block was sealed
	Tokens            []protocol.Token // Tokens recorded in this block
}

const blockHeaderSize = 119

// decodeBlock decodes a single block
func decodeBlock(raw []byte) (block *Block, err error) {
	if len(raw) < blockHeaderSize {
		return nil, Error.New("decodeBlock invalid block size")
	}

	block = &Block{}

	signature := raw[0 : 0+65]

	block.ProducerPublicKey, _, err = btcec.RecoverCompact(btcec.S256(), signature, protocol.HashData(raw[65:]))
	if err != nil {
		return nil, Error.Wrap(err)
	}

	block.LastBlockHash = make([]byte, protocol.HashSize)
	copy(block.LastBlockHash, raw[65:65+protocol.HashSize])

	block.Number = binary.LittleEndian.Uint64(raw[97 : 97+8])
	block.Timestamp = time.Unix(int64(binary.LittleEndian.Uint64(raw[105:105+8])), 0)

	blockSize := binary.LittleEndian.Uint32(raw[113 : 113+4])
	if blockSize != uint32(len(raw)) {
		return nil, Error.New("decodeBlock invalid block size")
	}

	countTokens := binary.LittleEndian.Uint16(raw[117 : 117+2])
	if blockHeaderSize+int(countTokens)*protocol.TokenSize != len(raw) {
		return nil, Error.New("decodeBlock token count exceeds block size")
	}

	for n := 0; n < int(countTokens); n++ {
		index := blockHeaderSize + n*protocol.TokenSize
		token, err := protocol.DecodeToken(raw[index : index+protocol.TokenSize])
		if err != nil {
			return nil, Error.Wrap(err)
		}
		block.Tokens = append(block.Tokens, *token)
	}

	return block, nil
}

// encodeBlock encodes the block and signs it with the producer's private key
func encodeBlock(block *Block, producerPrivateKey *btcec.PrivateKey) (raw []byte, err error) {
	if len(block.Tokens) > 0xFFFF {
		return nil, Error.New("encodeBlock too many tokens")
	}

	var buffer bytes.Buffer
	buffer.Write(make([]byte, 65)) // Signature, filled at the end

	if block.Number > 0 && len(block.LastBlockHash) != protocol.HashSize {
		return nil, Error.New("encodeBlock invalid last block hash")
	} else if block.Number == 0 { // Block 0: Empty last hash
		block.LastBlockHash = make([]byte, protocol.HashSize)
	}
	buffer.Write(block.LastBlockHash)

	var temp [8]byte
	binary.LittleEndian.PutUint64(temp[0:8], block.Number)
	buffer.Write(temp[:8])

	if block.Timestamp.IsZero() {
		block.Timestamp = time.Now()
	}
	binary.LittleEndian.PutUint64(temp[0:8], uint64(block.Timestamp.UTC().Unix()))
	buffer.Write(temp[:8])

	buffer.Write(make([]byte, 4)) // Size of block, filled later

	binary.LittleEndian.PutUint16(temp[0:2], uint16(len(block.Tokens)))
	buffer.Write(temp[:2])

	for n := range block.Tokens {
		buffer.Write(block.Tokens[n].Encode())
	}

	raw = buffer.Bytes()
	binary.LittleEndian.PutUint32(raw[113:113+4], uint32(len(raw)))

	signature, err := btcec.SignCompact(btcec.S256(), producerPrivateKey, protocol.HashData(raw[65:]), true)
	if err != nil {
		return nil, Error.Wrap(err)
	} else if len(signature) != 65 {
		return nil, Error.New("encodeBlock signature length invalid")
	}
	copy(raw[0:65], signature)

	return raw, nil
}

// header returns the summary of the block
func (block *Block) header(hash []byte) *Header {
	return &Header{
		Number:       int64(block.Number),
		Hash:         hash,
		PreviousHash: block.LastBlockHash,
		Timestamp:    block.Timestamp,
		TokenCount:   len(block.Tokens),
	}
}
