package datamodel

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	bls "github.com/herumi/bls-eth-go-binary/bls"
)

// GenerateKeyPair produces a fresh KeyPair for algorithm ("ed25519" or
// "bls12_381").
func GenerateKeyPair(algorithm string) (KeyPair, error) {
	switch algorithm {
	case "", "ed25519":
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return KeyPair{}, fmt.Errorf("datamodel: generate ed25519 key: %w", err)
		}
		var pk PublicKey
		pk.Algorithm = "ed25519"
		copy(pk.Bytes[:], pub)
		return KeyPair{Public: pk, Private: priv}, nil
	case "bls12_381":
		var sk bls.SecretKey
		sk.SetByCSPRNG()
		pub := sk.GetPublicKey()
		var pk PublicKey
		pk.Algorithm = "bls12_381"
		copy(pk.Bytes[:], pub.Serialize())
		return KeyPair{Public: pk, Private: sk.Serialize()}, nil
	default:
		return KeyPair{}, fmt.Errorf("datamodel: unknown algorithm %q", algorithm)
	}
}

// ParsePublicKey parses the "algorithm:hex" form PublicKey.String produces,
// used by --trusted-peers and genesis key configuration to read a key back
// off the command line or a config file.
func ParsePublicKey(s string) (PublicKey, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return PublicKey{}, fmt.Errorf("datamodel: malformed public key %q, want algorithm:hex", s)
	}
	raw, err := hex.DecodeString(parts[1])
	if err != nil {
		return PublicKey{}, fmt.Errorf("datamodel: decode public key %q: %w", s, err)
	}
	var pk PublicKey
	pk.Algorithm = parts[0]
	switch pk.Algorithm {
	case "ed25519", "bls12_381":
	default:
		return PublicKey{}, fmt.Errorf("datamodel: unknown algorithm %q", pk.Algorithm)
	}
	n := copy(pk.Bytes[:], raw)
	if n != len(raw) || n > len(pk.Bytes) {
		return PublicKey{}, fmt.Errorf("datamodel: public key %q too long", s)
	}
	return pk, nil
}

// ParseKeyPair reconstructs a KeyPair from its public key string and the raw
// private-key bytes a key file carries. Used only at process startup to load
// a peer's own signing identity; never transmitted.
func ParseKeyPair(publicKey string, private []byte) (KeyPair, error) {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: private}, nil
}
