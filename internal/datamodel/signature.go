package datamodel

import (
	"bytes"
	"crypto/ed25519"
	"encoding/gob"
	"errors"
	"fmt"
	"sort"

	bls "github.com/herumi/bls-eth-go-binary/bls"
)

func init() {
	// BLS12-381 must be initialised exactly once per process before any
	// bls.SecretKey/PublicKey/Sign value is touched.
	if err := bls.Init(bls.BLS12_381); err != nil {
		panic(fmt.Errorf("datamodel: bls init: %w", err))
	}
}

// KeyPair is a public key paired with the private material needed to
// produce signatures over it.
// The core never inspects Private beyond passing it to Sign.
type KeyPair struct {
	Public  PublicKey
	Private []byte
}

// Sign produces a signature over msg using kp, dispatching on the key's
// declared algorithm.
func Sign(kp KeyPair, msg []byte) ([]byte, error) {
	switch kp.Public.Algorithm {
	case "ed25519":
		if len(kp.Private) != ed25519.PrivateKeySize {
			return nil, errors.New("datamodel: bad ed25519 private key size")
		}
		return ed25519.Sign(ed25519.PrivateKey(kp.Private), msg), nil
	case "bls12_381":
		var sk bls.SecretKey
		if err := sk.Deserialize(kp.Private); err != nil {
			return nil, fmt.Errorf("datamodel: bls secret key: %w", err)
		}
		sig := sk.SignByte(msg)
		return sig.Serialize(), nil
	default:
		return nil, fmt.Errorf("datamodel: unknown algorithm %q", kp.Public.Algorithm)
	}
}

// VerifyRaw checks sig over msg against pub, dispatching on algorithm.
func VerifyRaw(pub PublicKey, msg, sig []byte) bool {
	switch pub.Algorithm {
	case "ed25519":
		return ed25519.Verify(ed25519.PublicKey(pub.Bytes[:]), msg, sig)
	case "bls12_381":
		var pk bls.PublicKey
		if err := pk.Deserialize(pub.Bytes[:]); err != nil {
			return false
		}
		var s bls.Sign
		if err := s.Deserialize(sig); err != nil {
			return false
		}
		return s.Verify(&pk, string(msg))
	default:
		return false
	}
}

// SignatureOf carries a (PublicKey, bytes) pair verified against HashOf[T].
type SignatureOf[T any] struct {
	Signer    PublicKey
	Signature []byte
}

// NewSignatureOf signs the canonical hash of v with kp.
func NewSignatureOf[T any](kp KeyPair, v T) (SignatureOf[T], error) {
	h, err := NewHashOf(v)
	if err != nil {
		return SignatureOf[T]{}, err
	}
	hh := h.Hash()
	sig, err := Sign(kp, hh[:])
	if err != nil {
		return SignatureOf[T]{}, err
	}
	return SignatureOf[T]{Signer: kp.Public, Signature: sig}, nil
}

// Verify checks the signature against the canonical hash of v.
func (s SignatureOf[T]) Verify(v T) bool {
	h, err := NewHashOf(v)
	if err != nil {
		return false
	}
	hh := h.Hash()
	return VerifyRaw(s.Signer, hh[:], s.Signature)
}

// VerifyHash checks the signature against an already computed hash (used when the caller already
// holds a HashOf[T] and wants to avoid re-encoding v).
func (s SignatureOf[T]) VerifyHash(h HashOf[T]) bool {
	hh := h.Hash()
	return VerifyRaw(s.Signer, hh[:], s.Signature)
}

// SignaturesOf is a mapping from PublicKey to SignatureOf[T]. Invariant:
// at least one signature present, and every signature verifies against the
// same T.
type SignaturesOf[T any] struct {
	byKey map[PublicKey]SignatureOf[T]
}

// NewSignaturesOf builds a SignaturesOf set from a non-empty slice of
// signatures, all of which must verify v. A signature set is only ever
// constructed already-verified.
func NewSignaturesOf[T any](v T, sigs []SignatureOf[T]) (SignaturesOf[T], error) {
	if len(sigs) == 0 {
		return SignaturesOf[T]{}, errors.New("datamodel: signatures set must be non-empty")
	}
	byKey := make(map[PublicKey]SignatureOf[T], len(sigs))
	for _, s := range sigs {
		if !s.Verify(v) {
			return SignaturesOf[T]{}, fmt.Errorf("datamodel: signature from %s does not verify", s.Signer)
		}
		byKey[s.Signer] = s
	}
	return SignaturesOf[T]{byKey: byKey}, nil
}

// GobEncode/GobDecode expose byKey explicitly: gob drops unexported fields,
// which would otherwise silently lose every signature on round-trip.
func (s SignaturesOf[T]) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.byKey); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *SignaturesOf[T]) GobDecode(data []byte) error {
	var byKey map[PublicKey]SignatureOf[T]
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&byKey); err != nil {
		return err
	}
	s.byKey = byKey
	return nil
}

// Len returns the number of distinct signers.
func (s SignaturesOf[T]) Len() int { return len(s.byKey) }

// Contains reports whether pub is among the signers.
func (s SignaturesOf[T]) Contains(pub PublicKey) bool {
	_, ok := s.byKey[pub]
	return ok
}

// Signers returns the signing public keys in a deterministic (sorted by
// string form) order.
func (s SignaturesOf[T]) Signers() []PublicKey {
	out := make([]PublicKey, 0, len(s.byKey))
	for k := range s.byKey {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Add returns a new SignaturesOf with sig merged in, verifying it first.
func (s SignaturesOf[T]) Add(v T, sig SignatureOf[T]) (SignaturesOf[T], error) {
	if !sig.Verify(v) {
		return s, fmt.Errorf("datamodel: signature from %s does not verify", sig.Signer)
	}
	out := SignaturesOf[T]{byKey: make(map[PublicKey]SignatureOf[T], len(s.byKey)+1)}
	for k, v := range s.byKey {
		out.byKey[k] = v
	}
	out.byKey[sig.Signer] = sig
	return out, nil
}
