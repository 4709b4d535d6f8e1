package datamodel

import (
	"bytes"
	"encoding/gob"
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// Hash is a 32-byte content hash.
type Hash [32]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the all-zero hash used as the sentinel
// "no previous block" value for the genesis block's header.
func (h Hash) IsZero() bool { return h == Hash{} }

// Encodable is implemented by anything that can be turned into canonical
// bytes for hashing and signing. The encoding is the wire encoding:
// changing it changes every block hash downstream, so it must stay stable.
type Encodable interface {
	CanonicalEncode() ([]byte, error)
}

// canonicalEncode produces the canonical byte representation of v. Types
// that implement Encodable control their own layout; everything else falls
// back to gob so there is a single well-known encoder rather than ad-hoc
// per-type marshalling.
func canonicalEncode(v any) ([]byte, error) {
	if e, ok := v.(Encodable); ok {
		return e.CanonicalEncode()
	}
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("datamodel: canonical encode: %w", err)
	}
	return buf.Bytes(), nil
}

// HashOf is a phantom-typed hash: HashOf[T] can only be constructed from a T,
// preventing a BlockHeader hash from being confused with a Transaction hash
// at compile time even though both are just [32]byte underneath.
type HashOf[T any] struct {
	hash Hash
}

// NewHashOf computes the canonical hash of v.
func NewHashOf[T any](v T) (HashOf[T], error) {
	b, err := canonicalEncode(v)
	if err != nil {
		return HashOf[T]{}, err
	}
	return HashOf[T]{hash: Hash(blake3.Sum256(b))}, nil
}

// Hash returns the underlying 32-byte hash.
func (h HashOf[T]) Hash() Hash { return h.hash }

func (h HashOf[T]) String() string { return h.hash.String() }

// Equal reports whether two hashes of the same phantom type are identical.
func (h HashOf[T]) Equal(other HashOf[T]) bool { return h.hash == other.hash }

// GobEncode/GobDecode let HashOf round-trip through gob despite its field
// being unexported: gob silently drops unexported fields otherwise, which
// would violate the round-trip encoding invariant every entity here must
// satisfy.
func (h HashOf[T]) GobEncode() ([]byte, error) {
	out := make([]byte, 32)
	copy(out, h.hash[:])
	return out, nil
}

func (h *HashOf[T]) GobDecode(data []byte) error {
	if len(data) != 32 {
		return fmt.Errorf("datamodel: HashOf gob decode: want 32 bytes, got %d", len(data))
	}
	copy(h.hash[:], data)
	return nil
}
