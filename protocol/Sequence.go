/*
File Name:  Sequence.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

This code caches and verifies message sequences. They are used to map incoming pong messages to previous outgoing pings.
The remote public key is used together with a consecutive sequence number as unique key. Pings to peers with unknown public key
(bootstrap by address) use an arbitrary sequence number that is only keyed by the number itself.

Advantages:
* This secures against replay and poisoning attacks.
* The round-trip time can be measured and used to determine the connection quality.
*/

package protocol

import (
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec"
)

// SequenceManager stores all message sequence numbers that are valid at the moment
type SequenceManager struct {
	ReplyTimeout time.Duration // The round-trip timeout for message sequences.

	// sequences is the list of sequence numbers that are valid at the moment.
	// Key = Peer public key + Sequence Number
	sequences map[string]*SequenceExpiry

	messageSequence uint32
	stop            chan struct{}
	stopOnce        sync.Once

	sync.Mutex // synchronized access to the sequences
}

// SequenceExpiry contains the decoded sequence information of a message.
type SequenceExpiry struct {
	SequenceNumber uint32      // Sequence number
	created        time.Time   // When the sequence was created.
	expires        time.Time   // When the sequence expires.
	counter        int         // How many replies used the sequence.
	Data           interface{} // Optional high-level data associated with the sequence
}

// NewSequenceManager creates a new sequence manager. The expiration function is started immediately and runs until Close.
func NewSequenceManager(ReplyTimeout time.Duration) (manager *SequenceManager) {
	manager = &SequenceManager{
		ReplyTimeout:    ReplyTimeout,
		sequences:       make(map[string]*SequenceExpiry),
		messageSequence: rand.Uint32(),
		stop:            make(chan struct{}),
	}

	go manager.autoDeleteExpired()

	return
}

// Close stops the expiration routine. It is safe to call multiple times.
func (manager *SequenceManager) Close() {
	manager.stopOnce.Do(func() { close(manager.stop) })
}

// autoDeleteExpired deletes all sequences that are expired.
func (manager *SequenceManager) autoDeleteExpired() {
	ticker := time.NewTicker(manager.ReplyTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-manager.stop:
			return
		case now := <-ticker.C:
			manager.Lock()
			for key, sequence := range manager.sequences {
				if sequence.expires.Before(now) {
					delete(manager.sequences, key)
				}
			}
			manager.Unlock()
		}
	}
}

// sequence2Key creates the lookup key of a sequence for a peer. A nil public key creates an arbitrary key.
func sequence2Key(publicKey *btcec.PublicKey, sequenceNumber uint32) (key string) {
	if publicKey == nil {
		return "a" + strconv.FormatUint(uint64(sequenceNumber), 10)
	}
	return "u" + string(publicKey.SerializeCompressed()) + strconv.FormatUint(uint64(sequenceNumber), 10)
}

// NewSequence returns a new sequence and registers it. If the public key is nil, an arbitrary sequence is created.
func (manager *SequenceManager) NewSequence(publicKey *btcec.PublicKey, data interface{}) (info *SequenceExpiry) {
	info = &SequenceExpiry{
		created: time.Now(),
		expires: time.Now().Add(manager.ReplyTimeout),
		Data:    data,
	}

	if publicKey == nil {
		info.SequenceNumber = rand.Uint32()
	} else {
		info.SequenceNumber = atomic.AddUint32(&manager.messageSequence, 1)
	}

	// Sequences are unique enough that collisions are unlikely and negligible.
	key := sequence2Key(publicKey, info.SequenceNumber)
	manager.Lock()
	manager.sequences[key] = info
	manager.Unlock()

	return
}

// ValidateSequence validates the sequence number of an incoming reply and invalidates it. Arbitrary sequences are checked as fallback.
func (manager *SequenceManager) ValidateSequence(publicKey *btcec.PublicKey, sequenceNumber uint32) (sequenceInfo *SequenceExpiry, valid bool, rtt time.Duration) {
	manager.Lock()
	defer manager.Unlock()

	key := sequence2Key(publicKey, sequenceNumber)
	sequence, ok := manager.sequences[key]
	if !ok {
		key = sequence2Key(nil, sequenceNumber)
		if sequence, ok = manager.sequences[key]; !ok {
			return nil, false, rtt
		}
	}

	if sequence.counter == 0 {
		rtt = time.Since(sequence.created)
	}
	sequence.counter++

	delete(manager.sequences, key)

	return sequence, sequence.expires.After(time.Now()), rtt
}

// InvalidateSequence invalidates the sequence number.
func (manager *SequenceManager) InvalidateSequence(publicKey *btcec.PublicKey, sequenceNumber uint32) {
	key := sequence2Key(publicKey, sequenceNumber)

	manager.Lock()
	delete(manager.sequences, key)
	manager.Unlock()
}
