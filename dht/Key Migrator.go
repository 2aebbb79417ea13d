/*
File Name:  Key Migrator.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The key migrator periodically checks if the local node is still among the nodes closest to the keys it holds.
If not, the values are stored to the network. The local copy is kept.
*/

package dht

import (
	"context"
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
)

// StartKeysMigrator starts the migration loop. It runs until Stop is called.
func (searcher *Searcher) StartKeysMigrator() {
	if searcher.started.Swap(true) {
		return
	}
	go searcher.migrationLoop()
}

// Stop stops the migration loop and waits for it to exit. It is safe to call multiple times.
func (searcher *Searcher) Stop() {
	searcher.stopOnce.Do(func() {
		close(searcher.closeReq)
		if searcher.started.Load() {
			<-searcher.closed
		}
	})
}

func (searcher *Searcher) migrationLoop() {
	defer close(searcher.closed)

	interval := searcher.config.MigrationInterval
	if interval <= 0 {
		interval = DefaultConfig().MigrationInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-searcher.closeReq:
			return
		case <-ticker.C:
			searcher.MigrateKeys()
		}
	}
}

// MigrateKeys runs a single migration sweep. It returns the count of keys that were migrated.
func (searcher *Searcher) MigrateKeys() (migrated int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// abort the sweep on stop
	go func() {
		select {
		case <-searcher.closeReq:
			cancel()
		case <-ctx.Done():
		}
	}()

	for _, key := range searcher.holder.Keys() {
		if ctx.Err() != nil {
			break
		}

		closest := searcher.Lookup(ctx, key.ID)
		if containsID(closest, searcher.table.SelfID()) {
			continue
		}

		values := searcher.holder.all(key)
		for _, value := range values {
			if !searcher.storeOnNodes(ctx, closest, key, value, false) {
				searcher.LogStatus("Searcher.MigrateKeys", "key %s: no node accepted the value\n", key.ID)
			}
		}
		migrated++
	}

	return migrated
}

func containsID(nodes []*protocol.ExtendedNode, id protocol.ID) bool {
	for _, node := range nodes {
		if node.ID() == id {
			return true
		}
	}
	return false
}
