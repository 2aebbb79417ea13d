/*
File Name:  Bootstrap.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Bootstrap strategy:
1. Ping all nodes from the address book.
2. Contact the root peers from the seed list. Unreachable ones are retried with exponential backoff.
3. Send out local discovery (IPv4 broadcast and IPv6 multicast).
4. Lookup of the own node ID to fill the routing table.

Root peers may not hold a valid token yet (for example right after the network started). They are still contacted.
*/

package core

import (
	"context"
	"encoding/hex"
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/btcsuite/btcd/btcec"
	"github.com/cenkalti/backoff/v4"
)

// rootRetryMax is the maximum time to retry contacting a root peer
const rootRetryMax = time.Minute

// rootPeer is a single root peer info
type rootPeer struct {
	publicKey *btcec.PublicKey   // Public key
	addresses []protocol.Address // UDP addresses
}

// parseSeedList parses the seed list from the config. Invalid entries are logged and skipped.
func (backend *Backend) parseSeedList() (peers []*rootPeer) {
loopSeedList:
	for _, seed := range backend.Config.SeedList {
		peer := &rootPeer{}

		// parse the Public Key
		publicKeyB, err := hex.DecodeString(seed.PublicKey)
		if err != nil {
			backend.LogError("parseSeedList", "public key '%s': %v", seed.PublicKey, err)
			continue
		}

		if peer.publicKey, err = btcec.ParsePubKey(publicKeyB, btcec.S256()); err != nil {
			backend.LogError("parseSeedList", "public key '%s': %v", seed.PublicKey, err)
			continue
		}

		if peer.publicKey.IsEqual(backend.publicKey) { // skip if self
			continue
		}

		// parse all IP addresses
		for _, addressA := range seed.Address {
			address, err := parseAddress(addressA)
			if err != nil {
				backend.LogError("parseSeedList", "public key '%s' address '%s': %v", seed.PublicKey, addressA, err)
				continue loopSeedList
			}

			peer.addresses = append(peer.addresses, address)
		}

		peers = append(peers, peer)
	}

	return peers
}

// parseAddress parses an input peer address in the form "IP:Port". The port is the UDP port.
func parseAddress(text string) (address protocol.Address, err error) {
	host, portA, err := net.SplitHostPort(text)
	if err != nil {
		return address, err
	}

	portI, err := strconv.Atoi(portA)
	if err != nil {
		return address, err
	} else if portI <= 0 || portI > 65535 {
		return address, errors.New("invalid port number")
	}

	if net.ParseIP(host) == nil {
		return address, errors.New("invalid input IP")
	}

	return protocol.Address{Host: host, UDPPort: portI}, nil
}

// contactRoot pings the root peer on all its addresses until one responds.
func (backend *Backend) contactRoot(ctx context.Context, peer *rootPeer) (err error) {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 500 * time.Millisecond
	retry.MaxElapsedTime = rootRetryMax

	return backoff.Retry(func() error {
		for _, address := range peer.addresses {
			sender, err := backend.Network.PingNode(ctx, address, peer.publicKey)
			if err != nil {
				continue
			}

			backend.addPeer(sender.Extended)
			return nil
		}
		return Error.New("root peer %x not reachable", peer.publicKey.SerializeCompressed())
	}, backoff.WithContext(retry, ctx))
}

// bootstrap connects to the initial set of peers. The node is marked as started when done.
func (backend *Backend) bootstrap() {
	defer backend.wg.Done()
	defer backend.markStarted()

	ctx := backend.ctx
	var wg sync.WaitGroup

	// Phase 1: address book
	if backend.addressBook != nil {
		for _, node := range backend.addressBook.Load() {
			node := node
			wg.Add(1)
			if err := backend.pool.Go(ctx, func() {
				defer wg.Done()
				backend.Ping(ctx, node.Address(), node.PublicKey())
			}); err != nil {
				wg.Done()
				break
			}
		}
	}

	// Phase 2: root peers
	rootPeers := backend.parseSeedList()
	if len(rootPeers) == 0 {
		backend.LogError("bootstrap", "warning: Empty list of root peers. Connectivity relies on local peer discovery and incoming connections.")
	}

	for _, peer := range rootPeers {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := backend.contactRoot(ctx, peer); err != nil && ctx.Err() == nil {
				backend.LogError("bootstrap", "%v", err)
			}
		}()
	}

	// Phase 3: local discovery
	if backend.Config.EnableDiscovery {
		backend.Network.Discover()
	}

	wg.Wait()
	if ctx.Err() != nil {
		return
	}

	// Phase 4: fill the routing table
	backend.Lookup(ctx, backend.nodeID)
}

// autoSaveAddressBook saves the routing table into the address book every ping interval.
func (backend *Backend) autoSaveAddressBook() {
	defer backend.wg.Done()

	if backend.addressBook == nil {
		return
	}

	interval := time.Duration(backend.Config.PingInterval)
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-backend.closeReq:
			return
		case <-ticker.C:
			if err := backend.addressBook.Save(backend.Table.AllNodes()); err != nil {
				backend.LogError("autoSaveAddressBook", "saving: %v", err)
			}
		}
	}
}
