/*
File Name:  Monitor.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The seeds monitor runs once per block interval:
1. Submitted tokens that are not yet recorded in the ledger are resubmitted.
2. Among the recorded tokens inside the valid age window, the one recorded most recently is promoted to be the active token.
3. Tokens for the current and, once known, the future seed are mined and submitted. This way a valid token is available across rotations.
*/

package pow

import (
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
)

// Start starts the seeds monitor. It runs until Stop is called.
func (manager *Manager) Start() {
	if manager.started.Swap(true) {
		return
	}
	go manager.monitorLoop()
}

// Stop stops the seeds monitor and waits for it to exit. It is safe to call multiple times.
func (manager *Manager) Stop() {
	manager.stopOnce.Do(func() {
		close(manager.closeReq)
		if manager.started.Load() {
			<-manager.closed
		}
	})
}

func (manager *Manager) monitorLoop() {
	defer close(manager.closed)

	period := manager.config.MonitorPeriod
	if period <= 0 {
		period = time.Minute
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	manager.MonitorSeeds()

	for {
		select {
		case <-manager.closeReq:
			return
		case <-ticker.C:
			manager.MonitorSeeds()
		}
	}
}

// MonitorSeeds runs a single monitor cycle.
func (manager *Manager) MonitorSeeds() {
	manager.resubmit()
	manager.promote()

	current, future, futureKnown := manager.epochs.SeedBlocks()
	seeds := []int64{current}
	if futureKnown {
		seeds = append(seeds, future)
	}

	for _, seedBlockNumber := range seeds {
		token, err := manager.GetToken(seedBlockNumber)
		if err != nil {
			manager.RequestTokenGeneration(seedBlockNumber)
			continue
		}
		manager.submit(token)
	}
}

// submit submits the token once. Resubmission is done by resubmit.
func (manager *Manager) submit(token *protocol.Token) {
	manager.submittedMutex.Lock()
	_, exists := manager.submitted[token.SeedBlockNumber]
	if !exists {
		manager.submitted[token.SeedBlockNumber] = &submission{token: token, blockNumber: -1}
	}
	manager.submittedMutex.Unlock()

	if exists {
		return
	}

	if err := manager.oracle.Submit(token); err != nil {
		manager.LogError("Manager.submit", "seed block %d: %v\n", token.SeedBlockNumber, err)
	}
}

// resubmit checks all unconfirmed tokens against the ledger and resubmits the ones that are still not recorded.
func (manager *Manager) resubmit() {
	manager.submittedMutex.Lock()
	var pending []*submission
	for _, entry := range manager.submitted {
		if entry.blockNumber < 0 {
			pending = append(pending, entry)
		}
	}
	manager.submittedMutex.Unlock()

	for _, entry := range pending {
		blockNumber := manager.oracle.LastRecordedBlockOf(entry.token)
		if blockNumber >= 0 {
			manager.submittedMutex.Lock()
			entry.blockNumber = blockNumber
			manager.submittedMutex.Unlock()
			continue
		}

		if err := manager.oracle.Submit(entry.token); err != nil {
			manager.LogError("Manager.resubmit", "seed block %d: %v\n", entry.token.SeedBlockNumber, err)
		}
	}
}

// promote selects the recorded token inside the valid window that was recorded most recently.
// Recorded tokens older than the window are forgotten.
func (manager *Manager) promote() {
	var best *submission
	from, to := manager.epochs.Window()

	manager.submittedMutex.Lock()
	for seedBlockNumber, entry := range manager.submitted {
		switch {
		case entry.blockNumber < 0:
		case entry.blockNumber < from:
			delete(manager.submitted, seedBlockNumber)
		case entry.blockNumber >= to:
		case best == nil || entry.blockNumber > best.blockNumber:
			best = entry
		}
	}
	manager.submittedMutex.Unlock()

	if best == nil {
		if manager.active.Swap(nil) != nil {
			manager.Promoted(nil)
		}
		return
	}

	current := manager.active.Load()
	if current != nil && current.Token.Equal(best.token) && current.BlockNumber == best.blockNumber {
		return
	}

	active := &ActiveToken{Token: *best.token, BlockNumber: best.blockNumber}
	manager.active.Store(active)
	manager.Promoted(active)
}
