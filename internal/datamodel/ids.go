// Package datamodel defines the identifiers, entities and instruction/query
// abstract data types that make up Iroha's replicated state. Everything here
// is pure data: no I/O, no consensus, no storage. Other packages (wsv, kura,
// executor, sumeragi) operate on these types without owning them.
package datamodel

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
)

// nameRe bounds what is accepted as a Name: ASCII letters, digits, underscore
// and hyphen, 1-128 bytes. Mirrors the identifier length limits carried as
// on-chain Parameters.
var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Name is a validated identifier fragment used to build every compound id
// below (domains, triggers, roles, asset definitions).
type Name string

// NewName validates s and returns it as a Name, or an error describing why
// it was rejected.
func NewName(s string) (Name, error) {
	if !nameRe.MatchString(s) {
		return "", fmt.Errorf("datamodel: invalid name %q", s)
	}
	return Name(s), nil
}

// DomainId identifies a Domain.
type DomainId = Name

// PublicKey is an opaque, comparable public-key encoding. The concrete
// signature scheme (ed25519, BLS12-381) is chosen by the signing helpers;
// here it is only an identity.
type PublicKey struct {
	Algorithm string // "ed25519" | "bls12_381"
	Bytes     [32]byte
}

func (k PublicKey) String() string {
	return k.Algorithm + ":" + hex.EncodeToString(k.Bytes[:])
}

// CanonicalEncode gives Name an explicit byte form so every identifier
// built from it (DomainId, TriggerId, RoleId) never falls back to gob for
// hashing, matching every other identifier in this file.
func (n Name) CanonicalEncode() ([]byte, error) { return []byte(n), nil }

// CanonicalEncode gives PublicKey an explicit byte form: the algorithm tag
// length-prefixed ahead of the fixed-size key bytes, so AccountId/PeerId
// hashing never depends on gob's struct-field ordering.
func (k PublicKey) CanonicalEncode() ([]byte, error) {
	buf := appendLenPrefixed(nil, []byte(k.Algorithm))
	buf = append(buf, k.Bytes[:]...)
	return buf, nil
}

// AccountId identifies an account by (DomainId, PublicKey).
type AccountId struct {
	Domain DomainId
	Key    PublicKey
}

func (a AccountId) String() string { return string(a.Domain) + "@" + a.Key.String() }

// CanonicalEncode gives AccountId an explicit byte form.
func (a AccountId) CanonicalEncode() ([]byte, error) {
	keyBytes, err := a.Key.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf := appendLenPrefixed(nil, []byte(a.Domain))
	buf = appendLenPrefixed(buf, keyBytes)
	return buf, nil
}

// AssetDefinitionId identifies an asset definition: (Name, DomainId).
type AssetDefinitionId struct {
	Name   Name
	Domain DomainId
}

func (d AssetDefinitionId) String() string { return string(d.Name) + "#" + string(d.Domain) }

// CanonicalEncode gives AssetDefinitionId an explicit byte form.
func (d AssetDefinitionId) CanonicalEncode() ([]byte, error) {
	buf := appendLenPrefixed(nil, []byte(d.Name))
	buf = appendLenPrefixed(buf, []byte(d.Domain))
	return buf, nil
}

// AssetId identifies an asset instance owned by an account.
type AssetId struct {
	Definition AssetDefinitionId
	Account    AccountId
}

func (a AssetId) String() string { return a.Definition.String() + "@" + a.Account.String() }

// CanonicalEncode gives AssetId an explicit byte form.
func (a AssetId) CanonicalEncode() ([]byte, error) {
	defBytes, err := a.Definition.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	acctBytes, err := a.Account.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf := appendLenPrefixed(nil, defBytes)
	buf = appendLenPrefixed(buf, acctBytes)
	return buf, nil
}

// TriggerId identifies a registered trigger.
type TriggerId = Name

// PeerId identifies a network peer by its signing key.
type PeerId = PublicKey

// RoleId identifies a role.
type RoleId = Name

// ChainId is an opaque string distinguishing one chain's wire messages and
// hashes from another's, preventing cross-chain replay.
type ChainId string

// ErrNotFound is returned by lookups across the data model and WSV when an
// identifier does not resolve to an existing entity.
var ErrNotFound = errors.New("datamodel: not found")
