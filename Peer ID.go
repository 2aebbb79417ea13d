/*
File Name:  Peer ID.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	"encoding/hex"

	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/btcsuite/btcd/btcec"
)

// initPeerID loads the private key from the config or creates a new one.
// The peer ID is a ECDSA (secp256k1) 257-bit public key. The node ID is the blake3 hash of the public key compressed form.
func (backend *Backend) initPeerID() (status int, err error) {
	// load existing key from config, if available
	if len(backend.Config.PrivateKey) > 0 {
		configPK, err := hex.DecodeString(backend.Config.PrivateKey)
		if err != nil || len(configPK) != btcec.PrivKeyBytesLen {
			if err == nil {
				err = ErrPrivateKey.New("invalid length %d", len(configPK))
			}
			return ExitPrivateKeyCorrupt, err
		}

		backend.privateKey, backend.publicKey = btcec.PrivKeyFromBytes(btcec.S256(), configPK)
		backend.nodeID = protocol.PublicKey2NodeID(backend.publicKey)
		return ExitSuccess, nil
	}

	// if the peer ID is empty, create a new user public-private key pair
	backend.privateKey, backend.publicKey, err = Secp256k1NewPrivateKey()
	if err != nil {
		return ExitPrivateKeyCreate, err
	}
	backend.nodeID = protocol.PublicKey2NodeID(backend.publicKey)

	// save the newly generated private key into the config
	backend.Config.PrivateKey = hex.EncodeToString(backend.privateKey.Serialize())

	if backend.ConfigFilename != "" {
		if err := SaveConfig(backend.ConfigFilename, backend.Config); err != nil {
			backend.LogError("initPeerID", "saving config '%s': %v", backend.ConfigFilename, err)
		}
	}

	return ExitSuccess, nil
}

// Secp256k1NewPrivateKey creates a new public-private key pair
func Secp256k1NewPrivateKey() (privateKey *btcec.PrivateKey, publicKey *btcec.PublicKey, err error) {
	key, err := btcec.NewPrivateKey(btcec.S256())
	if err != nil {
		return nil, nil, err
	}

	return key, key.PubKey(), nil
}

// ExportPrivateKey returns the peers public and private key
func (backend *Backend) ExportPrivateKey() (privateKey *btcec.PrivateKey, publicKey *btcec.PublicKey) {
	return backend.privateKey, backend.publicKey
}

// SelfNodeID returns the node ID used for DHT
func (backend *Backend) SelfNodeID() protocol.ID {
	return backend.nodeID
}

// Self returns the local node with its active token. Nil if no token is active yet.
func (backend *Backend) Self() *protocol.ExtendedNode {
	return backend.self.Load()
}

// selfAddress returns the address the local node reports
func (backend *Backend) selfAddress() protocol.Address {
	return backend.Network.Address()
}
