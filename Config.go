/*
File Name:  Config.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package core

import (
	_ "embed" // Required for embedding default Config file
	"os"
	"time"

	"github.com/PeernetOfficial/seeddht/dht"
	"github.com/PeernetOfficial/seeddht/network"
	"github.com/PeernetOfficial/seeddht/protocol"
	"gopkg.in/yaml.v3"
)

// Version is the current core library version
const Version = "0.1"

// Config defines the minimum required config for a node.
type Config struct {
	LogFile string `yaml:"LogFile"` // Log file. Empty to log to stderr.

	Listen        string `yaml:"Listen"`        // IP to listen on. Empty for all.
	PortUDP       int    `yaml:"PortUDP"`       // UDP port for ping/pong. 0 for random.
	PortTCP       int    `yaml:"PortTCP"`       // TCP port for requests. 0 for random.
	DiscoveryPort int    `yaml:"DiscoveryPort"` // Port for local discovery via IPv4 broadcast and IPv6 multicast. 0 to disable.
	NetworkName   string `yaml:"NetworkName"`   // Name of the network. Nodes of other networks are ignored.

	// User specific settings
	PrivateKey string `yaml:"PrivateKey"` // The Private Key, hex encoded so it can be copied manually

	// Initial peer seed list
	SeedList []PeerSeed `yaml:"SeedList"`

	AddressBook string `yaml:"AddressBook"` // Database file of known nodes. Empty to disable.
	LedgerPath  string `yaml:"LedgerPath"`  // Database file of the local ledger. Empty for in-memory.
	LedgerURL   string `yaml:"LedgerURL"`   // Web API of a node whose ledger is used instead of a local one.
	LedgerKey   string `yaml:"LedgerKey"`   // API key for LedgerURL

	// Kademlia
	BucketSize        int      `yaml:"BucketSize"`        // K
	Alpha             int      `yaml:"Alpha"`             // Parallel requests per lookup round
	LookupFanout      int      `yaml:"LookupFanout"`      // Candidates collected per trie branch
	RequestTimeout    Duration `yaml:"RequestTimeout"`    // Timeout of a single request
	PingInterval      Duration `yaml:"PingInterval"`      // Liveness check of all known nodes
	MigrationInterval Duration `yaml:"MigrationInterval"` // Interval of the key migrator
	MaxValues         int      `yaml:"MaxValues"`         // Maximum count of values returned per key

	// Epochs and proof of work
	EpochLength    int64    `yaml:"EpochLength"`    // Count of blocks per epoch
	SeedDelay      int64    `yaml:"SeedDelay"`      // Count of blocks a new seed is delayed
	MaxTokenAge    int64    `yaml:"MaxTokenAge"`    // η, count of epochs a token stays valid
	BlockInterval  Duration `yaml:"BlockInterval"`  // Expected interval of blocks. Period of the seeds monitor.
	EpochRefresh   Duration `yaml:"EpochRefresh"`   // Maximum age of the cached epoch information
	DifficultyBits int      `yaml:"DifficultyBits"` // Count of leading zero bits required
	TokenCacheSize int      `yaml:"TokenCacheSize"` // Count of mined tokens kept
	ProduceBlocks  bool     `yaml:"ProduceBlocks"`  // Whether the local ledger seals blocks

	Workers int `yaml:"Workers"` // Size of the worker pool for requests

	EnableDiscovery bool `yaml:"EnableDiscovery"` // Local peer discovery

	APIListen []string `yaml:"APIListen"` // Web API listen addresses. Empty to disable.
	APIKey    string   `yaml:"APIKey"`    // Web API key (UUID). Empty to disable authentication.
}

// PeerSeed is a single peer entry from the config's seed list
type PeerSeed struct {
	PublicKey string   `yaml:"PublicKey"` // Public key = peer ID. Hex encoded.
	Address   []string `yaml:"Address"`   // IP:Port (UDP)
}

// Duration is a time.Duration that is written as text (e.g. "10s") in the config.
type Duration time.Duration

// MarshalYAML encodes the duration as text
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML decodes the duration from text
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

//go:embed "Config Default.yaml"
var defaultConfig []byte

// LoadConfig reads the YAML configuration file. If the file does not exist or is empty, the default config is used.
// Status: 0 = Unknown error checking config file, 1 = Error reading config file, 2 = Error parsing config file, 3 = Success
func LoadConfig(filename string) (config *Config, status int, err error) {
	var configData []byte

	// check if the file is non existent or empty
	stats, err := os.Stat(filename)
	if err != nil && os.IsNotExist(err) || err == nil && stats.Size() == 0 {
		configData = defaultConfig
	} else if err != nil {
		return nil, 0, err
	} else if configData, err = os.ReadFile(filename); err != nil {
		return nil, 1, err
	}

	// The default config is parsed first so that missing fields keep their defaults.
	config = &Config{}
	if err = yaml.Unmarshal(defaultConfig, config); err != nil {
		return nil, 2, err
	}
	if err = yaml.Unmarshal(configData, config); err != nil {
		return nil, 2, err
	}

	return config, 3, nil
}

// SaveConfig writes the config to the file
func SaveConfig(filename string, config *Config) (err error) {
	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}

// dhtConfig returns the DHT tunables
func (config *Config) dhtConfig() dht.Config {
	return dht.Config{
		BucketSize:        config.BucketSize,
		Alpha:             config.Alpha,
		LookupFanout:      config.LookupFanout,
		RequestTimeout:    time.Duration(config.RequestTimeout),
		MigrationInterval: time.Duration(config.MigrationInterval),
		MaxValues:         config.MaxValues,
	}
}

// networkConfig returns the network settings
func (config *Config) networkConfig() network.Config {
	return network.Config{
		Listen:          config.Listen,
		PortUDP:         config.PortUDP,
		PortTCP:         config.PortTCP,
		DiscoveryPort:   config.DiscoveryPort,
		NetworkName:     config.NetworkName,
		RequestTimeout:  time.Duration(config.RequestTimeout),
		EnableDiscovery: config.EnableDiscovery,
	}
}

// difficulty returns the proof of work target
func (config *Config) difficulty() protocol.Difficulty {
	return protocol.NewDifficulty(config.DifficultyBits)
}
