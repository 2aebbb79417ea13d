/*
File Name:  Kademlia.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Public DHT operations of the node. Store and Search wait until bootstrapping finished.
*/

package core

import (
	"context"

	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/btcsuite/btcd/btcec"
)

// waitStarted blocks until bootstrapping finished
func (backend *Backend) waitStarted(ctx context.Context) error {
	select {
	case <-backend.started:
		return nil
	case <-backend.closeReq:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewKey creates a key bound to the current seed
func (backend *Backend) NewKey(text string) protocol.Key {
	return protocol.NewKey(text, protocol.NewSeedHasher(backend.Epochs.CurrentSeed()))
}

// Store stores the value on the nodes closest to the key. It returns true if at least one node accepted it.
func (backend *Backend) Store(ctx context.Context, key protocol.Key, value protocol.Value) (accepted bool, err error) {
	if err = backend.waitStarted(ctx); err != nil {
		return false, err
	}

	return backend.Searcher.Store(ctx, key, value), nil
}

// Search returns the values stored under the key in the network
func (backend *Backend) Search(ctx context.Context, key protocol.Key) (values []protocol.Value, found bool, err error) {
	if err = backend.waitStarted(ctx); err != nil {
		return nil, false, err
	}

	values, found = backend.Searcher.Get(ctx, key)
	return values, found, nil
}

// Lookup returns the closest valid nodes to the target known to the network
func (backend *Backend) Lookup(ctx context.Context, target protocol.ID) []*protocol.ExtendedNode {
	return backend.Searcher.Lookup(ctx, target)
}

// Ping pings the address and adds the responder to the routing table if it holds a valid token.
// The public key may be nil if unknown.
func (backend *Backend) Ping(ctx context.Context, address protocol.Address, publicKey *btcec.PublicKey) (responder *protocol.ExtendedNode, err error) {
	if responder, err = backend.Network.Ping(ctx, address, publicKey); err != nil {
		return nil, err
	}

	backend.addPeer(responder)
	return responder, nil
}
