package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefault(t *testing.T) {
	config, status, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 3, status)

	assert.Equal(t, 20, config.BucketSize)
	assert.Equal(t, 3, config.Alpha)
	assert.Equal(t, 2*time.Second, time.Duration(config.RequestTimeout))
	assert.Equal(t, int64(10), config.EpochLength)
	assert.Equal(t, "seed", config.NetworkName)
	assert.Empty(t, config.PrivateKey)
}

func TestLoadConfigOverrides(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("BucketSize: 8\nRequestTimeout: 500ms\nSeedList:\n  - PublicKey: \"00\"\n    Address: [\"127.0.0.1:1234\"]\n"), 0644))

	config, status, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, 3, status)

	assert.Equal(t, 8, config.BucketSize)
	assert.Equal(t, 3, config.Alpha, "missing fields keep the default")
	assert.Equal(t, 500*time.Millisecond, time.Duration(config.RequestTimeout))
	require.Len(t, config.SeedList, 1)
	assert.Equal(t, []string{"127.0.0.1:1234"}, config.SeedList[0].Address)

	dhtConfig := config.dhtConfig()
	assert.Equal(t, 8, dhtConfig.BucketSize)
	assert.Equal(t, 500*time.Millisecond, dhtConfig.RequestTimeout)
}

func TestLoadConfigInvalid(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("RequestTimeout: forever\n"), 0644))

	_, status, err := LoadConfig(filename)
	assert.Error(t, err)
	assert.Equal(t, 2, status)
}

func TestSaveConfig(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "config.yaml")

	config, _, err := LoadConfig(filename)
	require.NoError(t, err)
	config.PrivateKey = "abcd"
	config.PingInterval = Duration(90 * time.Second)
	require.NoError(t, SaveConfig(filename, config))

	loaded, status, err := LoadConfig(filename)
	require.NoError(t, err)
	assert.Equal(t, 3, status)
	assert.Equal(t, "abcd", loaded.PrivateKey)
	assert.Equal(t, 90*time.Second, time.Duration(loaded.PingInterval))
}

func TestParseAddress(t *testing.T) {
	address, err := parseAddress("192.168.1.1:4000")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.1", address.Host)
	assert.Equal(t, 4000, address.UDPPort)

	_, err = parseAddress("[::1]:5000")
	assert.NoError(t, err)

	for _, invalid := range []string{"192.168.1.1", "192.168.1.1:0", "192.168.1.1:70000", "host:4000"} {
		_, err = parseAddress(invalid)
		assert.Error(t, err, invalid)
	}
}

func TestModifyConfig(t *testing.T) {
	config, _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	modify := ModifyConfig{DataPath: "node1", APIListen: []string{"127.0.0.1:9000"}, SeedList: []PeerSeed{{PublicKey: "00"}}}
	modify.ModifyConfig(config)

	assert.Equal(t, filepath.Join("node1", "ledger.db"), config.LedgerPath)
	assert.Equal(t, filepath.Join("node1", "address book.db"), config.AddressBook)
	assert.Equal(t, []string{"127.0.0.1:9000"}, config.APIListen)
	assert.Len(t, config.SeedList, 1)
	assert.Equal(t, "seed", config.NetworkName, "empty fields are ignored")

	(&ModifyConfig{DisableAPI: true}).ModifyConfig(config)
	assert.Empty(t, config.APIListen)
}
