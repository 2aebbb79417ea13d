/*
File Name:  Peernet.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PeernetOfficial/seeddht/dht"
	"github.com/PeernetOfficial/seeddht/ledger"
	"github.com/PeernetOfficial/seeddht/network"
	"github.com/PeernetOfficial/seeddht/pow"
	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/PeernetOfficial/seeddht/store"
	"github.com/PeernetOfficial/seeddht/workers"
	"github.com/btcsuite/btcd/btcec"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// Error is the error class of the node
var Error = errs.Class("seed node")

// ErrPrivateKey is returned for a corrupt private key in the config
var ErrPrivateKey = errs.Class("private key")

// ErrStopped is returned by operations waiting for the start-up if the node is stopped before.
var ErrStopped = Error.New("node stopped")

// validityCacheSize is the count of confirmed tokens cached by the validator
const validityCacheSize = 4096

// Backend is the local node of the seed DHT
type Backend struct {
	Config         *Config // Config
	ConfigFilename string  // Filename of the config. Newly generated keys are saved to it.
	Filters        Filters // Filters to intercept events
	logger         *zap.SugaredLogger

	privateKey *btcec.PrivateKey
	publicKey  *btcec.PublicKey
	nodeID     protocol.ID
	self       atomic.Pointer[protocol.ExtendedNode] // Self with the active token

	Oracle    ledger.Oracle // Ledger view. Either the local chain or a remote one.
	Chain     *ledger.Chain // Local chain. Nil if a remote ledger is used.
	Epochs    *Epochs       // Seed epochs
	Validator *Validator    // Token validator
	Table     *dht.RoutingTable
	Holder    *dht.KeyHolder
	Searcher  *dht.Searcher
	Tokens    *pow.Manager
	Network   *network.Network

	pool        *workers.Pool // Requests
	miners      *workers.Pool // Proof of work
	addressBook *AddressBook  // Nil if disabled

	ctx       context.Context // Cancelled on Stop
	cancel    context.CancelFunc
	connected atomic.Bool // Set by Connect. The address book is only written after connecting.
	started   chan struct{}
	startOnce sync.Once
	closeReq  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// Init initializes the node. The config must be loaded first! Status is one of the Exit codes.
// The filters may be nil.
func Init(config *Config, configFilename string, filters *Filters) (backend *Backend, status int, err error) {
	backend = newBackend(config, configFilename, filters)
	if status, err = backend.init(); status != ExitSuccess {
		return nil, status, err
	}
	return backend, ExitSuccess, nil
}

func newBackend(config *Config, configFilename string, filters *Filters) (backend *Backend) {
	backend = &Backend{
		Config:         config,
		ConfigFilename: configFilename,
		started:        make(chan struct{}),
		closeReq:       make(chan struct{}),
	}
	backend.ctx, backend.cancel = context.WithCancel(context.Background())
	if filters != nil {
		backend.Filters = *filters
	}
	return backend
}

// init creates all components. If the oracle is already set, no ledger is opened.
func (backend *Backend) init() (status int, err error) {
	config := backend.Config

	if backend.logger, err = newLogger(config.LogFile); err != nil {
		return ExitErrorLogInit, err
	}

	backend.initFilters()

	if status, err = backend.initPeerID(); status != ExitSuccess {
		return status, err
	}

	if err = backend.initLedger(); err != nil {
		return ExitLedgerCorrupt, err
	}

	backend.Epochs = NewEpochs(backend.Oracle, config.EpochLength, config.SeedDelay, config.MaxTokenAge, time.Duration(config.EpochRefresh))
	if backend.Validator, err = NewValidator(backend.Epochs, backend.Oracle, config.difficulty(), validityCacheSize); err != nil {
		backend.closeLedger()
		return ExitLedgerCorrupt, err
	}

	backend.pool = workers.New(config.Workers)
	backend.miners = workers.New(runtime.NumCPU())

	if backend.Network, err = network.New(backend.privateKey, &handler{backend: backend}, config.networkConfig()); err != nil {
		backend.closeLedger()
		return ExitNetworkListen, err
	}
	backend.Network.LogError = backend.LogError

	dhtConfig := config.dhtConfig()
	backend.Holder = dht.NewKeyHolder(backend.Epochs, dhtConfig.MaxValues)
	backend.Table = dht.NewRoutingTable(backend.nodeID, dhtConfig.BucketSize, dhtConfig.LookupFanout, backend.Self, backend.Validator)
	backend.Searcher = dht.NewSearcher(backend.Table, backend.Network, backend.Validator, backend.Holder, backend.Self, backend.pool, dhtConfig)
	backend.Searcher.LogStatus = backend.Filters.LookupStatus
	backend.Searcher.LogError = backend.LogError

	backend.Tokens = pow.NewManager(backend.publicKey, backend.Oracle, backend.Epochs, backend.miners, pow.Config{
		Difficulty:    config.difficulty(),
		CacheSize:     config.TokenCacheSize,
		MonitorPeriod: time.Duration(config.BlockInterval),
	})
	backend.Tokens.LogError = backend.LogError
	backend.Tokens.Promoted = backend.promoteToken

	if config.AddressBook != "" {
		if backend.addressBook, err = OpenAddressBook(config.AddressBook); err != nil {
			backend.Network.Close()
			backend.closeLedger()
			return ExitAddressBook, err
		}
	}

	return ExitSuccess, nil
}

// initLedger opens the remote ledger if configured, otherwise the local chain.
func (backend *Backend) initLedger() (err error) {
	if backend.Oracle != nil {
		return nil
	} else if backend.Config.LedgerURL != "" {
		remote, err := ledger.NewRemote(backend.Config.LedgerURL, backend.Config.LedgerKey, time.Duration(backend.Config.RequestTimeout))
		if err != nil {
			return err
		}
		remote.LogError = backend.LogError
		backend.Oracle = remote
		return nil
	}

	var database store.Store
	if backend.Config.LedgerPath == "" {
		database = store.NewMemoryStore()
	} else {
		if err = os.MkdirAll(filepath.Dir(backend.Config.LedgerPath), 0755); err != nil {
			return err
		}
		if database, err = store.NewPogrebStore(backend.Config.LedgerPath); err != nil {
			return err
		}
	}

	if backend.Chain, err = ledger.Open(backend.privateKey, database); err != nil {
		database.Close()
		return err
	}
	backend.Chain.LogError = backend.LogError
	backend.Oracle = backend.Chain

	return nil
}

func (backend *Backend) closeLedger() {
	if backend.Chain != nil {
		if err := backend.Chain.Close(); err != nil {
			backend.LogError("closeLedger", "closing ledger: %v", err)
		}
	}
}

// promoteToken updates the identity of the local node when the active token changes.
func (backend *Backend) promoteToken(active *pow.ActiveToken) {
	if active == nil {
		backend.self.Store(nil)
		backend.Filters.TokenPromoted(nil)
		return
	}

	self, err := protocol.NewExtendedNode(protocol.NewNode(backend.publicKey, backend.selfAddress()), active.Token, active.BlockNumber)
	if err != nil {
		backend.LogError("promoteToken", "token of block %d: %v", active.BlockNumber, err)
		return
	}

	backend.self.Store(self)
	backend.Filters.TokenPromoted(active)
}

// Connect starts the network, the block producer and the token monitor, and bootstraps in the background.
func (backend *Backend) Connect() {
	if backend.connected.Swap(true) {
		return
	}

	backend.Network.Start()

	if backend.Chain != nil && backend.Config.ProduceBlocks {
		backend.Chain.Start(time.Duration(backend.Config.BlockInterval))
	}

	backend.Tokens.Start()
	backend.Searcher.StartKeysMigrator()

	backend.wg.Add(3)
	go backend.bootstrap()
	go backend.autoPingAll()
	go backend.autoSaveAddressBook()
}

// Started returns a channel that is closed once bootstrapping finished
func (backend *Backend) Started() <-chan struct{} {
	return backend.started
}

// markStarted signals that the start-up finished
func (backend *Backend) markStarted() {
	backend.startOnce.Do(func() { close(backend.started) })
}

// Stop shuts the node down and waits for all routines. It is safe to call multiple times.
func (backend *Backend) Stop() {
	backend.stopOnce.Do(func() {
		close(backend.closeReq)
		backend.cancel()

		backend.Searcher.Stop()
		backend.Tokens.Stop()
		backend.Network.Close()
		backend.wg.Wait()

		backend.pool.Close()
		backend.miners.Close()

		if backend.addressBook != nil && backend.connected.Load() {
			if err := backend.addressBook.Save(backend.Table.AllNodes()); err != nil {
				backend.LogError("Stop", "saving address book: %v", err)
			}
		}
		if backend.addressBook != nil {
			backend.addressBook.Close()
		}

		backend.closeLedger()
		backend.logger.Sync()
	})
}

// isStopping checks if Stop was called
func (backend *Backend) isStopping() bool {
	select {
	case <-backend.closeReq:
		return true
	default:
		return false
	}
}
