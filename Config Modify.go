/*
File Name:  Config Modify.go
Copyright:  2021 Peernet s.r.o.
Author:     Akilan Selvacoumar
*/

package core

import "path/filepath"

// ModifyConfig contains settings that override the loaded config, for example from command line parameters.
// Empty fields are ignored.
type ModifyConfig struct {
	LogFile     string // Log file
	Listen      string // IP to listen on
	DataPath    string // Directory of the ledger and the address book
	LedgerURL   string // Remote ledger
	LedgerKey   string // API key for the remote ledger
	SeedList    []PeerSeed
	APIListen   []string // Web API listen addresses
	APIKey      string   // Web API key
	DisableAPI  bool     // Disables the web API
	NetworkName string   // Name of the network
}

// ModifyConfig applies the modifications to the config
func (modifyConfig *ModifyConfig) ModifyConfig(config *Config) {
	if modifyConfig.LogFile != "" {
		config.LogFile = modifyConfig.LogFile
	}
	if modifyConfig.Listen != "" {
		config.Listen = modifyConfig.Listen
	}
	if modifyConfig.DataPath != "" {
		config.LedgerPath = filepath.Join(modifyConfig.DataPath, "ledger.db")
		config.AddressBook = filepath.Join(modifyConfig.DataPath, "address book.db")
	}
	if modifyConfig.LedgerURL != "" {
		config.LedgerURL = modifyConfig.LedgerURL
		config.LedgerKey = modifyConfig.LedgerKey
	}
	if len(modifyConfig.SeedList) > 0 {
		config.SeedList = append(config.SeedList, modifyConfig.SeedList...)
	}
	if len(modifyConfig.APIListen) > 0 {
		config.APIListen = modifyConfig.APIListen
	}
	if modifyConfig.APIKey != "" {
		config.APIKey = modifyConfig.APIKey
	}
	if modifyConfig.DisableAPI {
		config.APIListen = nil
	}
	if modifyConfig.NetworkName != "" {
		config.NetworkName = modifyConfig.NetworkName
	}
}
