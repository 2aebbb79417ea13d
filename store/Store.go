/*
File Name:  Store.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Simple key-value store abstraction. It persists the ledger blocks and the address book.
*/

package store

// Store is the interface for implementing the storage mechanism.
type Store interface {
	// Set stores the key/value pair. An existing value is overwritten.
	Set(key []byte, data []byte) error

	// Get returns the value for the key if present.
	Get(key []byte) (data []byte, found bool)

	// Delete deletes a key/value pair.
	Delete(key []byte)

	// Iterate calls the callback for every key/value pair until it returns false. The order is undefined.
	Iterate(callback func(key, data []byte) (next bool)) error

	// Count returns the count of stored key/value pairs.
	Count() uint64

	// Close closes the store. Any further operation fails.
	Close() error
}
