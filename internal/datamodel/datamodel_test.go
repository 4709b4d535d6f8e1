package datamodel

import (
	"crypto/ed25519"
	"math/big"
	"testing"
	"time"
)

func TestNumericCheckedArithmetic(t *testing.T) {
	a := NewNumeric(100, 0)
	b := NewNumeric(30, 0)

	sum, err := a.CheckedAdd(b)
	if err != nil || sum.String() != "130" {
		t.Fatalf("CheckedAdd(100,30) = %v, %v; want 130, nil", sum, err)
	}

	diff, err := a.CheckedSub(b)
	if err != nil || diff.String() != "70" {
		t.Fatalf("CheckedSub(100,30) = %v, %v; want 70, nil", diff, err)
	}

	if _, err := b.CheckedSub(a); err != ErrNegativeResult {
		t.Fatalf("CheckedSub(30,100) err = %v; want ErrNegativeResult", err)
	}

	if _, err := a.CheckedDiv(Zero()); err != ErrDivideByZero {
		t.Fatalf("CheckedDiv by zero err = %v; want ErrDivideByZero", err)
	}
}

func TestNumericOverflow(t *testing.T) {
	huge := Numeric{mantissa: new(big.Int).Lsh(big.NewInt(1), 255), scale: 0}
	if _, err := huge.CheckedAdd(huge); err != ErrOverflow {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestMetadataLimits(t *testing.T) {
	m := NewMetadata()
	limits := MetadataLimits{MaxEntries: 2, MaxEntrySize: 4}

	if err := m.Set("a", []byte("ok"), limits); err != nil {
		t.Fatalf("Set a: %v", err)
	}
	if err := m.Set("b", []byte("ok2"), limits); err != nil {
		t.Fatalf("Set b: %v", err)
	}
	if err := m.Set("c", []byte("x"), limits); err == nil {
		t.Fatalf("expected max-entries error for third key")
	}
	if err := m.Set("a", []byte("toolong"), limits); err == nil {
		t.Fatalf("expected max-entry-size error")
	}
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}

	var order []string
	m.Each(func(k string, _ []byte) { order = append(order, k) })
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("insertion order not preserved: %v", order)
	}
}

func TestHashOfDeterministic(t *testing.T) {
	hdr := BlockHeader{Height: 1, ViewChangeIndex: 0}
	h1, err := NewHashOf(hdr)
	if err != nil {
		t.Fatalf("NewHashOf: %v", err)
	}
	h2, err := NewHashOf(hdr)
	if err != nil {
		t.Fatalf("NewHashOf: %v", err)
	}
	if !h1.Equal(h2) {
		t.Fatalf("hash of identical headers differs: %s vs %s", h1, h2)
	}

	hdr.Height = 2
	h3, err := NewHashOf(hdr)
	if err != nil {
		t.Fatalf("NewHashOf: %v", err)
	}
	if h1.Equal(h3) {
		t.Fatalf("hash did not change when height changed")
	}
}

func TestSignatureOfEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var pk PublicKey
	pk.Algorithm = "ed25519"
	copy(pk.Bytes[:], pub)
	kp := KeyPair{Public: pk, Private: priv}

	hdr := BlockHeader{Height: 7, Timestamp: time.Unix(0, 0)}
	sig, err := NewSignatureOf(kp, hdr)
	if err != nil {
		t.Fatalf("NewSignatureOf: %v", err)
	}
	if !sig.Verify(hdr) {
		t.Fatalf("signature did not verify against the signed value")
	}

	hdr.Height = 8
	if sig.Verify(hdr) {
		t.Fatalf("signature verified against a different value")
	}
}

func TestSignaturesOfRequiresNonEmptyAndValid(t *testing.T) {
	hdr := BlockHeader{Height: 1}
	if _, err := NewSignaturesOf(hdr, nil); err == nil {
		t.Fatalf("expected error for empty signature set")
	}

	pub, priv, _ := ed25519.GenerateKey(nil)
	var pk PublicKey
	pk.Algorithm = "ed25519"
	copy(pk.Bytes[:], pub)
	kp := KeyPair{Public: pk, Private: priv}

	sig, err := NewSignatureOf(kp, hdr)
	if err != nil {
		t.Fatalf("NewSignatureOf: %v", err)
	}
	set, err := NewSignaturesOf(hdr, []SignatureOf[BlockHeader]{sig})
	if err != nil {
		t.Fatalf("NewSignaturesOf: %v", err)
	}
	if set.Len() != 1 || !set.Contains(pk) {
		t.Fatalf("signature set does not contain expected signer")
	}
}

func TestTriggerIndexOrdersByTriggerId(t *testing.T) {
	w := NewWorld("test-chain")
	filter := EventFilter{Kind: EventData, Entity: "alice"}
	for _, id := range []TriggerId{"zzz", "aaa", "mmm"} {
		w.RegisterTriggerSubscription(&Trigger{Id: id, Action: TriggerAction{Filter: filter}})
	}
	got := w.MatchingTriggers(EventData, "alice")
	want := []TriggerId{"aaa", "mmm", "zzz"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}
