package main

import (
	"path/filepath"
	"testing"

	"iroha-peer/internal/datamodel"
)

func TestParseTrustedPeers(t *testing.T) {
	kp, err := datamodel.GenerateKeyPair("ed25519")
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	entry := kp.Public.String() + "@/ip4/127.0.0.1/tcp/1338"

	peers, err := parseTrustedPeers([]string{entry})
	if err != nil {
		t.Fatalf("parseTrustedPeers: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("len(peers) = %d, want 1", len(peers))
	}
	if peers[0].Id != kp.Public || peers[0].Address != "/ip4/127.0.0.1/tcp/1338" {
		t.Fatalf("peers[0] = %+v", peers[0])
	}
}

func TestParseTrustedPeersWithoutAddress(t *testing.T) {
	kp, err := datamodel.GenerateKeyPair("ed25519")
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	peers, err := parseTrustedPeers([]string{kp.Public.String()})
	if err != nil {
		t.Fatalf("parseTrustedPeers: %v", err)
	}
	if len(peers) != 1 || peers[0].Address != "" {
		t.Fatalf("peers = %+v, want empty address", peers)
	}
}

func TestParseTrustedPeersRejectsMalformedKey(t *testing.T) {
	if _, err := parseTrustedPeers([]string{"not-a-key@addr"}); err == nil {
		t.Fatal("parseTrustedPeers() = nil error, want error for malformed key")
	}
}

func TestLoadOrCreateIdentityGeneratesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")

	first, err := loadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("loadOrCreateIdentity (create): %v", err)
	}

	second, err := loadOrCreateIdentity(path)
	if err != nil {
		t.Fatalf("loadOrCreateIdentity (reload): %v", err)
	}

	if first.Public != second.Public {
		t.Fatalf("reloaded identity public key %v != original %v", second.Public, first.Public)
	}
	if string(first.Private) != string(second.Private) {
		t.Fatal("reloaded identity private key does not match original")
	}
}

func TestLoadOrCreateIdentityWithoutPathGeneratesEphemeral(t *testing.T) {
	kp, err := loadOrCreateIdentity("")
	if err != nil {
		t.Fatalf("loadOrCreateIdentity(\"\"): %v", err)
	}
	if kp.Public.Algorithm != "ed25519" {
		t.Fatalf("Algorithm = %q, want ed25519", kp.Public.Algorithm)
	}
}
