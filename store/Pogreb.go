/*
File Name:  Pogreb.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package store

import (
	"io"
	"log"

	"github.com/akrylysov/pogreb"
	"github.com/zeebo/errs"
)

// Error is the error class of the store
var Error = errs.Class("store")

// PogrebStore is a key/value store using Pogreb.
type PogrebStore struct {
	filename string
	db       *pogreb.DB
}

// NewPogrebStore create a properly initialized Pogreb store.
func NewPogrebStore(filename string) (store *PogrebStore, err error) {
	pogreb.SetLogger(log.New(io.Discard, "", 0))

	// if the database does not exist, it will be created
	db, err := pogreb.Open(filename, nil)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	return &PogrebStore{
		filename: filename,
		db:       db,
	}, nil
}

// Set stores the key/value pair.
func (store *PogrebStore) Set(key []byte, data []byte) error {
	return Error.Wrap(store.db.Put(key, data))
}

// Get returns the value for the key if present.
func (store *PogrebStore) Get(key []byte) (data []byte, found bool) {
	value, err := store.db.Get(key)
	if err != nil || value == nil {
		return nil, false
	}
	return value, true
}

// Delete deletes a key/value pair.
func (store *PogrebStore) Delete(key []byte) {
	store.db.Delete(key)
}

// Iterate calls the callback for every key/value pair until it returns false.
func (store *PogrebStore) Iterate(callback func(key, data []byte) (next bool)) error {
	it := store.db.Items()
	for {
		key, value, err := it.Next()
		if err == pogreb.ErrIterationDone {
			return nil
		} else if err != nil {
			return Error.Wrap(err)
		}

		if !callback(key, value) {
			return nil
		}
	}
}

// Count returns the count of stored key/value pairs.
func (store *PogrebStore) Count() uint64 {
	return uint64(store.db.Count())
}

// Close closes the database.
func (store *PogrebStore) Close() error {
	return Error.Wrap(store.db.Close())
}
