/*
File Name:  Node.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package protocol

import (
	"github.com/btcsuite/btcd/btcec"
	"github.com/zeebo/errs"
)

// ErrIncoherentToken is returned when a token does not belong to the node it is attached to.
var ErrIncoherentToken = errs.Class("incoherent token")

// Node is a participant of the network. It is immutable.
type Node struct {
	ID        ID               // ID = blake3(Public Key)
	PublicKey *btcec.PublicKey // Public key, ECDSA (secp256k1) 257-bit
	Address   Address          // Physical address
}

// NewNode creates the node record for the public key.
func NewNode(publicKey *btcec.PublicKey, address Address) Node {
	return Node{ID: PublicKey2NodeID(publicKey), PublicKey: publicKey, Address: address}
}

// Equal checks if all fields are equal.
func (node Node) Equal(other Node) bool {
	return node.ID == other.ID && publicKeysEqual(node.PublicKey, other.PublicKey) && node.Address == other.Address
}

// ExtendedNode is a node together with its token and the block number at which the ledger recorded the token.
// The token block number may lag the seed block number that the token targets.
// Fields are unexported so the only way to create one is NewExtendedNode, which verifies coherence.
type ExtendedNode struct {
	node             Node
	token            Token
	tokenBlockNumber int64
}

// NewExtendedNode attaches the token to the node. The token must be coherent with the node.
func NewExtendedNode(node Node, token Token, tokenBlockNumber int64) (extended *ExtendedNode, err error) {
	if token.ID != node.ID {
		return nil, ErrIncoherentToken.New("token ID %s does not match node ID %s", token.ID, node.ID)
	} else if !publicKeysEqual(token.PublicKey, node.PublicKey) {
		return nil, ErrIncoherentToken.New("token public key does not match node %s", node.ID)
	}

	return &ExtendedNode{node: node, token: token, tokenBlockNumber: tokenBlockNumber}, nil
}

// Node returns the plain node record
func (extended *ExtendedNode) Node() Node {
	return extended.node
}

// ID returns the node ID
func (extended *ExtendedNode) ID() ID {
	return extended.node.ID
}

// PublicKey returns the public key of the node
func (extended *ExtendedNode) PublicKey() *btcec.PublicKey {
	return extended.node.PublicKey
}

// Address returns the physical address
func (extended *ExtendedNode) Address() Address {
	return extended.node.Address
}

// Token returns the token
func (extended *ExtendedNode) Token() Token {
	return extended.token
}

// TokenBlockNumber returns the block number at which the token was recorded
func (extended *ExtendedNode) TokenBlockNumber() int64 {
	return extended.tokenBlockNumber
}

// Equal checks if both records are identical.
func (extended *ExtendedNode) Equal(other *ExtendedNode) bool {
	if extended == nil || other == nil {
		return extended == other
	}
	return extended.node.Equal(other.node) && extended.token.Equal(&other.token) && extended.tokenBlockNumber == other.tokenBlockNumber
}
