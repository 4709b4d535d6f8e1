package txpipeline

import (
	"testing"

	"iroha-peer/internal/datamodel"
)

func TestAccountIdTargetRoundTrip(t *testing.T) {
	id := datamodel.AccountId{Domain: "wonderland", Key: fixtureKey(7)}
	body := accountIdTarget(id)
	parsed, err := parseAccountId(body)
	if err != nil {
		t.Fatalf("parseAccountId(%q): %v", body, err)
	}
	if parsed != id {
		t.Fatalf("round trip = %v, want %v", parsed, id)
	}
}

func TestParseAssetId(t *testing.T) {
	acc := datamodel.AccountId{Domain: "wonderland", Key: fixtureKey(9)}
	raw := "rose#wonderland@" + accountIdTarget(acc)
	id, err := parseAssetId(raw)
	if err != nil {
		t.Fatalf("parseAssetId(%q): %v", raw, err)
	}
	want := datamodel.AssetId{
		Definition: datamodel.AssetDefinitionId{Name: "rose", Domain: "wonderland"},
		Account:    acc,
	}
	if id != want {
		t.Fatalf("parseAssetId = %v, want %v", id, want)
	}
}

func TestParseMetadataTargetRejectsUnknownPrefix(t *testing.T) {
	if _, _, err := parseMetadataTarget("peer:ed25519:00"); err == nil {
		t.Fatalf("expected unsupported-prefix error")
	}
	if _, _, err := parseMetadataTarget("no-prefix"); err == nil {
		t.Fatalf("expected malformed-target error")
	}
}
