/*
File Name:  Address Book.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

The address book persists the routing table between runs, so the node can bootstrap from previously known peers.
Key = Node ID, Value = msgpack encoded wire node including the token.
*/

package core

import (
	"os"
	"path/filepath"

	"github.com/PeernetOfficial/seeddht/protocol"
	"github.com/PeernetOfficial/seeddht/store"
	"github.com/vmihailenco/msgpack/v5"
)

// AddressBook stores known nodes
type AddressBook struct {
	database store.Store
}

// OpenAddressBook opens the address book stored in the file. It is created if it does not exist.
func OpenAddressBook(filename string) (book *AddressBook, err error) {
	if err = os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, err
	}

	database, err := store.NewPogrebStore(filename)
	if err != nil {
		return nil, err
	}

	return NewAddressBook(database), nil
}

// NewAddressBook creates an address book using the store
func NewAddressBook(database store.Store) *AddressBook {
	return &AddressBook{database: database}
}

// Load returns all stored nodes holding a token. Corrupt records are skipped.
func (book *AddressBook) Load() (nodes []*protocol.ExtendedNode) {
	book.database.Iterate(func(key, data []byte) bool {
		var wire protocol.WireNode
		if err := msgpack.Unmarshal(data, &wire); err != nil {
			return true
		}

		if _, extended, err := wire.Decode(); err == nil && extended != nil {
			nodes = append(nodes, extended)
		}
		return true
	})

	return nodes
}

// Save replaces the stored nodes
func (book *AddressBook) Save(nodes []*protocol.ExtendedNode) (err error) {
	var keys [][]byte
	book.database.Iterate(func(key, data []byte) bool {
		keys = append(keys, append([]byte{}, key...))
		return true
	})

	for _, key := range keys {
		book.database.Delete(key)
	}

	for _, node := range nodes {
		data, err := msgpack.Marshal(protocol.ExtendedToWire(node))
		if err != nil {
			return err
		}

		id := node.ID()
		if err = book.database.Set(id[:], data); err != nil {
			return err
		}
	}

	return nil
}

// Count returns the count of stored nodes
func (book *AddressBook) Count() uint64 {
	return book.database.Count()
}

// Close closes the database
func (book *AddressBook) Close() error {
	return book.database.Close()
}
