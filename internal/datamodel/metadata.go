package datamodel

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// MetadataLimits bounds a Metadata map. These values come from the
// on-chain Parameters record, not a local config file.
type MetadataLimits struct {
	MaxEntries   uint32
	MaxEntrySize uint32 // bytes, serialized value size
}

// Metadata is a bounded, insertion-ordered key/value store attached to
// domains, accounts and assets. Ordering is preserved (not a bare Go map)
// so iteration and hashing are deterministic.
type Metadata struct {
	keys   []string
	values map[string][]byte
}

// NewMetadata returns an empty Metadata store.
func NewMetadata() Metadata {
	return Metadata{values: make(map[string][]byte)}
}

// Set inserts or overwrites key, enforcing limits. Overwriting an existing
// key does not change its position in iteration order.
func (m *Metadata) Set(key string, value []byte, limits MetadataLimits) error {
	if m.values == nil {
		m.values = make(map[string][]byte)
	}
	if uint32(len(value)) > limits.MaxEntrySize {
		return fmt.Errorf("datamodel: metadata value for %q exceeds max entry size %d", key, limits.MaxEntrySize)
	}
	if _, exists := m.values[key]; !exists {
		if uint32(len(m.keys)) >= limits.MaxEntries {
			return fmt.Errorf("datamodel: metadata would exceed max entries %d", limits.MaxEntries)
		}
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
	return nil
}

// Remove deletes key, returning false if it was absent.
func (m *Metadata) Remove(key string) bool {
	if _, ok := m.values[key]; !ok {
		return false
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
	return true
}

// Clone returns a copy sharing no map or slice structure with m. Values
// are not copied: Set always replaces a value wholesale, never mutates one
// in place, so sharing the byte slices is safe.
func (m Metadata) Clone() Metadata {
	out := Metadata{
		keys:   append([]string(nil), m.keys...),
		values: make(map[string][]byte, len(m.values)),
	}
	for k, v := range m.values {
		out.values[k] = v
	}
	return out
}

// Get returns the value for key and whether it was present.
func (m Metadata) Get(key string) ([]byte, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Len returns the number of entries.
func (m Metadata) Len() int { return len(m.keys) }

// Each calls fn for every entry in insertion order.
func (m Metadata) Each(fn func(key string, value []byte)) {
	for _, k := range m.keys {
		fn(k, m.values[k])
	}
}

// gobMetadata is Metadata's exported mirror, used only to survive gob
// encoding: gob drops unexported fields, which would otherwise silently
// discard every entry on round-trip.
type gobMetadata struct {
	Keys   []string
	Values map[string][]byte
}

func (m Metadata) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gobMetadata{Keys: m.keys, Values: m.values}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Metadata) GobDecode(data []byte) error {
	var g gobMetadata
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return err
	}
	m.keys, m.values = g.Keys, g.Values
	return nil
}

// CanonicalEncode implements Encodable: entries are already insertion
// ordered, so concatenation is already deterministic.
func (m Metadata) CanonicalEncode() ([]byte, error) {
	var out []byte
	for _, k := range m.keys {
		out = append(out, []byte(k)...)
		out = append(out, 0)
		out = append(out, m.values[k]...)
		out = append(out, 0)
	}
	return out, nil
}
