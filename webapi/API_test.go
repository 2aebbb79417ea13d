package webapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	core "github.com/PeernetOfficial/seeddht"
	"github.com/PeernetOfficial/seeddht/ledger"
	"github.com/PeernetOfficial/seeddht/pow"
	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *core.Backend {
	config, _, err := core.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	config.LogFile = ""
	config.Listen = "127.0.0.1"
	config.AddressBook = ""
	config.LedgerPath = ""
	config.EnableDiscovery = false
	config.ProduceBlocks = false
	config.DifficultyBits = 4
	config.APIListen = nil

	backend, status, err := core.Init(config, "", nil)
	require.NoError(t, err)
	require.Equal(t, core.ExitSuccess, status)
	t.Cleanup(backend.Stop)

	return backend
}

func newTestServer(t *testing.T) (backend *core.Backend, server *httptest.Server, key uuid.UUID) {
	backend = newTestBackend(t)
	key = uuid.New()

	server = httptest.NewServer(New(backend, key).Router)
	t.Cleanup(server.Close)

	return backend, server, key
}

func get(t *testing.T, server *httptest.Server, key uuid.UUID, path string) *http.Response {
	request, err := http.NewRequest(http.MethodGet, server.URL+path, nil)
	require.NoError(t, err)
	if key != uuid.Nil {
		request.Header.Set("x-api-key", key.String())
	}

	response, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	t.Cleanup(func() { response.Body.Close() })
	return response
}

func TestAuthentication(t *testing.T) {
	_, server, key := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, get(t, server, uuid.Nil, "/test").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get(t, server, uuid.New(), "/test").StatusCode)

	response := get(t, server, key, "/test")
	require.Equal(t, http.StatusOK, response.StatusCode)
	body, err := io.ReadAll(response.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestStatus(t *testing.T) {
	backend, server, key := newTestServer(t)

	response := get(t, server, key, "/status")
	require.Equal(t, http.StatusOK, response.StatusCode)

	var status apiResponseStatus
	require.NoError(t, json.NewDecoder(response.Body).Decode(&status))

	_, publicKey := backend.ExportPrivateKey()
	assert.Equal(t, hex.EncodeToString(publicKey.SerializeCompressed()), status.PeerID)
	assert.False(t, status.IsStarted)
	assert.False(t, status.HasToken)
	assert.Equal(t, 0, status.CountPeers)
	assert.Equal(t, int64(0), status.LatestBlock)

	response = get(t, server, key, "/status/peers")
	require.Equal(t, http.StatusOK, response.StatusCode)

	var peers apiResponsePeers
	require.NoError(t, json.NewDecoder(response.Body).Decode(&peers))
	assert.Empty(t, peers.Peers)
}

func TestStatusStream(t *testing.T) {
	backend, server, key := newTestServer(t)

	header := http.Header{}
	header.Set("x-api-key", key.String())

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/status/ws", header)
	require.NoError(t, err)
	defer conn.Close()

	var status apiResponseStatus
	require.NoError(t, conn.ReadJSON(&status))

	nodeID := backend.SelfNodeID()
	assert.Equal(t, hex.EncodeToString(nodeID[:]), status.NodeID)
}

func TestTokenAndLookup(t *testing.T) {
	_, server, key := newTestServer(t)

	response := get(t, server, key, "/token")
	require.Equal(t, http.StatusOK, response.StatusCode)

	var token apiResponseToken
	require.NoError(t, json.NewDecoder(response.Body).Decode(&token))
	assert.Equal(t, 1, token.Status)
	assert.Nil(t, token.Active)

	assert.Equal(t, http.StatusBadRequest, get(t, server, key, "/lookup?id=zz").StatusCode)

	var target protocol.ID
	response = get(t, server, key, "/lookup?id="+hex.EncodeToString(target[:]))
	require.Equal(t, http.StatusOK, response.StatusCode)

	var peers apiResponsePeers
	require.NoError(t, json.NewDecoder(response.Body).Decode(&peers))
	assert.Empty(t, peers.Peers)
}

func TestLedgerRemote(t *testing.T) {
	backend, server, key := newTestServer(t)
	chain := backend.Chain
	require.NotNil(t, chain)

	remote, err := ledger.NewRemote(server.URL, key.String(), 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, int64(0), remote.LatestBlockNumber())

	_, err = chain.SealBlock()
	require.NoError(t, err)
	assert.Equal(t, int64(1), remote.LatestBlockNumber())
	assert.Equal(t, chain.BlockHashAt(1), remote.BlockHashAt(1))

	header, found := remote.BlockHeaderAt(1)
	require.True(t, found)
	assert.Equal(t, chain.BlockHashAt(0), header.PreviousHash)

	_, found = remote.BlockHeaderAt(99)
	assert.False(t, found)
	assert.Nil(t, remote.BlockHashAt(99))

	// submit a token via the remote ledger
	_, publicKey, err := core.Secp256k1NewPrivateKey()
	require.NoError(t, err)
	id := protocol.PublicKey2NodeID(publicKey)
	difficulty := protocol.NewDifficulty(4)

	nonce, err := pow.Mine(context.Background(), id, protocol.NewSeedHasher(chain.BlockHashAt(1)), difficulty)
	require.NoError(t, err)
	token := &protocol.Token{ID: id, Nonce: nonce, SeedBlockNumber: 1, PublicKey: publicKey}

	assert.Equal(t, int64(-1), remote.LastRecordedBlockOf(token))
	require.NoError(t, remote.Submit(token))
	assert.Equal(t, 1, chain.PendingCount())

	number, err := chain.SealBlock()
	require.NoError(t, err)
	assert.Equal(t, number, remote.LastRecordedBlockOf(token))
	assert.True(t, remote.IsTransactionRecordedAt(number, token))
	assert.False(t, remote.IsTransactionRecordedAt(number-1, token))

	// tokens for unknown seeds are rejected
	unknown := &protocol.Token{ID: id, Nonce: nonce, SeedBlockNumber: 50, PublicKey: publicKey}
	assert.Error(t, remote.Submit(unknown))
}
