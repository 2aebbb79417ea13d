package pow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PeernetOfficial/seeddht/ledger"
	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/PeernetOfficial/seeddht/store"
	"github.com/PeernetOfficial/seeddht/workers"
	"github.com/btcsuite/btcd/btcec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEpochs is a fixed epoch view
type testEpochs struct {
	sync.Mutex
	current, future int64
	futureKnown     bool
	from, to        int64
}

func (epochs *testEpochs) SeedBlocks() (current, future int64, futureKnown bool) {
	epochs.Lock()
	defer epochs.Unlock()
	return epochs.current, epochs.future, epochs.futureKnown
}

func (epochs *testEpochs) Window() (from, to int64) {
	epochs.Lock()
	defer epochs.Unlock()
	return epochs.from, epochs.to
}

// countingOracle counts submissions
type countingOracle struct {
	*ledger.Chain
	submits atomic.Int32
}

func (oracle *countingOracle) Submit(token *protocol.Token) error {
	oracle.submits.Add(1)
	return oracle.Chain.Submit(token)
}

func newTestManager(t *testing.T, epochs Epochs) (*Manager, *countingOracle) {
	producer, err := btcec.NewPrivateKey(btcec.S256())
	require.NoError(t, err)
	chain, err := ledger.Open(producer, store.NewMemoryStore())
	require.NoError(t, err)

	privateKey, err := btcec.NewPrivateKey(btcec.S256())
	require.NoError(t, err)

	pool := workers.New(2)
	t.Cleanup(pool.Close)

	oracle := &countingOracle{Chain: chain}
	manager := NewManager(privateKey.PubKey(), oracle, epochs, pool, Config{Difficulty: protocol.NewDifficulty(8), CacheSize: 4, MonitorPeriod: time.Hour})
	return manager, oracle
}

func TestMineDeterministic(t *testing.T) {
	hasher := protocol.NewSeedHasher([]byte("seed"))
	id := hasher.SumID([]byte("node"))
	difficulty := protocol.NewDifficulty(8)

	nonce1, err := Mine(context.Background(), id, hasher, difficulty)
	require.NoError(t, err)
	nonce2, err := Mine(context.Background(), id, hasher, difficulty)
	require.NoError(t, err)

	assert.Equal(t, nonce1, nonce2)
	assert.True(t, difficulty.IsValid(id, nonce1, hasher))
}

func TestMineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hasher := protocol.NewSeedHasher([]byte("seed"))
	_, err := Mine(ctx, hasher.SumID([]byte("node")), hasher, protocol.NewDifficulty(128))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManagerTokens(t *testing.T) {
	manager, oracle := newTestManager(t, &testEpochs{})

	_, err := manager.GetToken(0)
	assert.True(t, ErrTokenNotFound.Has(err))

	// concurrent requests share one search and get the same token
	var wg sync.WaitGroup
	tokens := make([]*protocol.Token, 8)
	for n := range tokens {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			token, err := manager.BlockingGetToken(context.Background(), 0)
			assert.NoError(t, err)
			tokens[n] = token
		}(n)
	}
	wg.Wait()

	for _, token := range tokens {
		require.NotNil(t, token)
		assert.Equal(t, tokens[0].Nonce, token.Nonce)
	}

	token, err := manager.GetToken(0)
	require.NoError(t, err)
	assert.Equal(t, manager.id, token.ID)
	assert.Equal(t, int64(0), token.SeedBlockNumber)
	assert.True(t, manager.config.Difficulty.IsValid(token.ID, token.Nonce, protocol.NewSeedHasher(oracle.BlockHashAt(0))))
	assert.Len(t, manager.Tokens(), 1)

	_, err = manager.BlockingGetToken(context.Background(), 99)
	assert.True(t, ErrSeedUnknown.Has(err))
}

func TestTokenCacheFIFO(t *testing.T) {
	cache := newTokenCache(2)
	for n := int64(0); n < 3; n++ {
		cache.add(TokenPair{SeedBlockNumber: n, Token: &protocol.Token{SeedBlockNumber: n}})
	}

	_, found := cache.get(0)
	assert.False(t, found)
	_, found = cache.get(2)
	assert.True(t, found)
	assert.True(t, TokenPair{SeedBlockNumber: 1}.Equal(TokenPair{SeedBlockNumber: 1, Token: &protocol.Token{}}))
}

func TestMonitorPromotes(t *testing.T) {
	epochs := &testEpochs{from: 0, to: 100}
	manager, oracle := newTestManager(t, epochs)

	var promoted []*ActiveToken
	manager.Promoted = func(active *ActiveToken) { promoted = append(promoted, active) }

	// first cycle starts mining
	manager.MonitorSeeds()
	require.Eventually(t, func() bool {
		_, err := manager.GetToken(0)
		return err == nil
	}, 5*time.Second, 5*time.Millisecond)

	// second cycle submits
	manager.MonitorSeeds()
	assert.Equal(t, int32(1), oracle.submits.Load())
	assert.Nil(t, manager.ActiveToken())

	// not recorded yet: resubmitted
	manager.MonitorSeeds()
	assert.Equal(t, int32(2), oracle.submits.Load())

	_, err := oracle.SealBlock()
	require.NoError(t, err)

	manager.MonitorSeeds()
	active := manager.ActiveToken()
	require.NotNil(t, active)
	assert.Equal(t, int64(1), active.BlockNumber)
	require.Len(t, promoted, 1)

	// promoting the same token again is a no-op
	manager.MonitorSeeds()
	assert.Len(t, promoted, 1)

	// the window moved past the token
	epochs.Lock()
	epochs.from, epochs.to = 5, 10
	epochs.Unlock()

	manager.MonitorSeeds()
	assert.Nil(t, manager.ActiveToken())
	require.Len(t, promoted, 2)
	assert.Nil(t, promoted[1])
}

func TestMonitorStop(t *testing.T) {
	manager, _ := newTestManager(t, &testEpochs{})
	manager.Start()
	manager.Stop()
	manager.Stop()
}
