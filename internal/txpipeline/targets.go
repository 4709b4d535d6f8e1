package txpipeline

import (
	"encoding/hex"
	"fmt"
	"strings"

	"iroha-peer/internal/datamodel"
)

// Instruction payloads that need to name an existing entity by value
// (Unregister, SetKeyValue, RemoveKeyValue) carry it as a plain string
// rather than a typed id, since the concrete instruction wire format is
// owned by callers. These helpers own the one encoding this pipeline
// accepts:
//
// domain:<name>
// account:<domain>/<alg>:<hexkey>
// assetdef:<name>#<domain>
// asset:<name>#<domain>@<domain>/<alg>:<hexkey>
// trigger:<name>
// role:<name>
// peer:<alg>:<hexkey>

type metadataTargetKind int

const (
	metadataTargetDomain metadataTargetKind = iota
	metadataTargetAccount
	metadataTargetAsset
)

func parseMetadataTarget(s string) (metadataTargetKind, string, error) {
	kind, rest, err := splitTarget(s)
	if err != nil {
		return 0, "", err
	}
	switch kind {
	case "domain":
		return metadataTargetDomain, rest, nil
	case "account":
		return metadataTargetAccount, rest, nil
	case "asset":
		return metadataTargetAsset, rest, nil
	default:
		return 0, "", fmt.Errorf("unsupported metadata target prefix %q", kind)
	}
}

func splitTarget(s string) (prefix, rest string, err error) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return "", "", fmt.Errorf("malformed target %q: missing prefix", s)
	}
	return s[:idx], s[idx+1:], nil
}

func parsePublicKey(s string) (datamodel.PublicKey, error) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return datamodel.PublicKey{}, fmt.Errorf("malformed public key %q", s)
	}
	alg, hexKey := s[:idx], s[idx+1:]
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return datamodel.PublicKey{}, fmt.Errorf("malformed public key %q: %w", s, err)
	}
	var pk datamodel.PublicKey
	pk.Algorithm = alg
	n := copy(pk.Bytes[:], raw)
	if n != len(raw) {
		return datamodel.PublicKey{}, fmt.Errorf("malformed public key %q: wrong length", s)
	}
	return pk, nil
}

// parseAccountId parses "<domain>/<alg>:<hexkey>" (the body after the
// "account:" prefix has already been stripped by the caller).
func parseAccountId(s string) (datamodel.AccountId, error) {
	idx := strings.IndexByte(s, '/')
	if idx < 0 {
		return datamodel.AccountId{}, fmt.Errorf("malformed account id %q: missing domain separator", s)
	}
	domain, keyPart := s[:idx], s[idx+1:]
	dom, err := datamodel.NewName(domain)
	if err != nil {
		return datamodel.AccountId{}, err
	}
	pk, err := parsePublicKey(keyPart)
	if err != nil {
		return datamodel.AccountId{}, err
	}
	return datamodel.AccountId{Domain: dom, Key: pk}, nil
}

// accountIdTarget formats id back into the "<domain>/<alg>:<hexkey>" body
// form parseAccountId expects, for callers assembling targets.
func accountIdTarget(id datamodel.AccountId) string {
	return fmt.Sprintf("%s/%s", id.Domain, id.Key.String())
}

// parseAssetDefinitionId parses "<name>#<domain>".
func parseAssetDefinitionId(s string) (datamodel.AssetDefinitionId, error) {
	hash := strings.IndexByte(s, '#')
	if hash < 0 {
		return datamodel.AssetDefinitionId{}, fmt.Errorf("malformed asset definition id %q: missing domain separator", s)
	}
	name, domain := s[:hash], s[hash+1:]
	n, err := datamodel.NewName(name)
	if err != nil {
		return datamodel.AssetDefinitionId{}, err
	}
	dom, err := datamodel.NewName(domain)
	if err != nil {
		return datamodel.AssetDefinitionId{}, err
	}
	return datamodel.AssetDefinitionId{Name: n, Domain: dom}, nil
}

// parseAssetId parses "<name>#<domain>@<accountBody>".
func parseAssetId(s string) (datamodel.AssetId, error) {
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return datamodel.AssetId{}, fmt.Errorf("malformed asset id %q: missing account separator", s)
	}
	defPart, accPart := s[:at], s[at+1:]
	hash := strings.IndexByte(defPart, '#')
	if hash < 0 {
		return datamodel.AssetId{}, fmt.Errorf("malformed asset id %q: missing domain separator", s)
	}
	name, domain := defPart[:hash], defPart[hash+1:]
	n, err := datamodel.NewName(name)
	if err != nil {
		return datamodel.AssetId{}, err
	}
	dom, err := datamodel.NewName(domain)
	if err != nil {
		return datamodel.AssetId{}, err
	}
	acc, err := parseAccountId(accPart)
	if err != nil {
		return datamodel.AssetId{}, err
	}
	return datamodel.AssetId{Definition: datamodel.AssetDefinitionId{Name: n, Domain: dom}, Account: acc}, nil
}
