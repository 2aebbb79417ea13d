/*
File Name:  Filter.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Filters allow the caller to intercept events to log, modify, or prevent.
*/

package core

import (
	"fmt"
	"strings"

	"github.com/PeernetOfficial/seeddht/network"
	"github.com/PeernetOfficial/seeddht/pow"
	"github.com/PeernetOfficial/seeddht/protocol"
	"go.uber.org/zap"
)

// Filters contains all functions to install the hook. Use nil for unused.
// The functions are called sequentially and block execution; if the filter takes a long time it should start a Go routine.
type Filters struct {
	// NewPeer is called every time a node is added to the routing table that was not in it before.
	// Nodes might be removed and reappear quickly, i.e. this function may be called multiple times for the same node.
	NewPeer func(node *protocol.ExtendedNode)

	// LogError is called for any error. If this function is overwritten by the caller, the caller must write errors into the log file if desired, or call DefaultLogError.
	LogError func(function, format string, v ...interface{})

	// LookupStatus is called with updates of lookups in the DHT. It allows to see the live progress of lookups.
	LookupStatus func(function, format string, v ...interface{})

	// IncomingRequest receives all incoming requests. Command is one of protocol.CommandX.
	IncomingRequest func(sender *network.Incoming, command uint8, key protocol.ID)

	// TokenPromoted is called when the identity token of the local node changes. Nil if the local node has no valid token anymore.
	TokenPromoted func(active *pow.ActiveToken)
}

func (backend *Backend) initFilters() {
	// Set default filters to blank functions so they can be safely called without constant nil checks.
	// Only if not already set before init.

	if backend.Filters.NewPeer == nil {
		backend.Filters.NewPeer = func(node *protocol.ExtendedNode) {}
	}
	if backend.Filters.LogError == nil {
		backend.Filters.LogError = backend.DefaultLogError
	}
	if backend.Filters.LookupStatus == nil {
		backend.Filters.LookupStatus = func(function, format string, v ...interface{}) {}
	}
	if backend.Filters.IncomingRequest == nil {
		backend.Filters.IncomingRequest = func(sender *network.Incoming, command uint8, key protocol.ID) {}
	}
	if backend.Filters.TokenPromoted == nil {
		backend.Filters.TokenPromoted = func(active *pow.ActiveToken) {}
	}
}

// newLogger creates the logger writing to the log file. An empty filename logs to stderr.
func newLogger(filename string) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.DisableStacktrace = true

	if filename != "" {
		config.OutputPaths = []string{filename}
		config.ErrorOutputPaths = []string{filename}
	} else {
		config.OutputPaths = []string{"stderr"}
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// DefaultLogError is the default error logging function
func (backend *Backend) DefaultLogError(function, format string, v ...interface{}) {
	backend.logger.Errorw(strings.TrimSuffix(fmt.Sprintf(format, v...), "\n"), "function", function)
}

// LogError logs an error via the filter
func (backend *Backend) LogError(function, format string, v ...interface{}) {
	backend.Filters.LogError(function, format, v...)
}
