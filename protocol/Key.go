/*
File Name:  Key.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package protocol

import "strconv"

// Key identifies values in the DHT. The ID is the seed-bound hash of the text, which makes keys expire with the seed.
type Key struct {
	Text    string // Human readable text. Only valid if HasText is set.
	HasText bool   // Whether the text is known
	ID      ID     // seedHash(Text)
}

// NewKey creates a key from the text using the hasher bound to the current seed.
func NewKey(text string, hasher *SeedHasher) Key {
	return Key{Text: text, HasText: true, ID: hasher.SumID([]byte(text))}
}

// KeyFromID creates a key without text
func KeyFromID(id ID) Key {
	return Key{ID: id}
}

// Equal compares the IDs, and the texts if both keys carry one.
func (key Key) Equal(other Key) bool {
	if key.ID != other.ID {
		return false
	}
	if key.HasText && other.HasText {
		return key.Text == other.Text
	}
	return true
}

// IsValidFor checks whether the key ID is the hash of the text under the given hasher.
func (key Key) IsValidFor(hasher *SeedHasher) bool {
	return key.HasText && hasher.SumID([]byte(key.Text)) == key.ID
}

// Value is an opaque payload stored in the DHT with an optional annotation.
type Value struct {
	Data       []byte
	Annotation string
}

// Fingerprint returns a string that is unique per value. It is used for deduplication.
func (value Value) Fingerprint() string {
	return strconv.Itoa(len(value.Data)) + ":" + string(value.Data) + value.Annotation
}

// Equal checks if data and annotation are equal
func (value Value) Equal(other Value) bool {
	return value.Fingerprint() == other.Fingerprint()
}
