package txpipeline

import (
	"testing"
	"time"

	"iroha-peer/internal/datamodel"
)

func mustKeyPair(t *testing.T) datamodel.KeyPair {
	t.Helper()
	kp, err := datamodel.GenerateKeyPair("ed25519")
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return kp
}

func signedTx(t *testing.T, kp datamodel.KeyPair, chain datamodel.ChainId, n int, created time.Time, ttl time.Duration) datamodel.SignedTransaction {
	t.Helper()
	instrs := make([]datamodel.Instruction, n)
	for i := range instrs {
		instrs[i] = datamodel.Instruction{Kind: datamodel.InstructionLog, Log: &datamodel.LogPayload{Message: "x"}}
	}
	payload := datamodel.TransactionPayload{
		Chain:        chain,
		Authority:    datamodel.AccountId{Domain: "wonderland", Key: kp.Public},
		Instructions: instrs,
		CreatedAt:    created,
		TimeToLive:   ttl,
	}
	sig, err := datamodel.NewSignatureOf(kp, payload)
	if err != nil {
		t.Fatalf("NewSignatureOf: %v", err)
	}
	return datamodel.SignedTransaction{
		Chain:        payload.Chain,
		Authority:    payload.Authority,
		Instructions: payload.Instructions,
		CreatedAt:    payload.CreatedAt,
		TimeToLive:   payload.TimeToLive,
		Signature:    sig,
	}
}

func TestAcceptSucceeds(t *testing.T) {
	kp := mustKeyPair(t)
	now := time.Now()
	tx := signedTx(t, kp, "test-chain", 2, now, time.Hour)
	params := datamodel.Parameters{MaxInstructionsPerTx: 10}

	if _, err := Accept(tx, "test-chain", params, now); err != nil {
		t.Fatalf("Accept() = %v, want nil", err)
	}
}

func TestAcceptRejectsWrongChain(t *testing.T) {
	kp := mustKeyPair(t)
	now := time.Now()
	tx := signedTx(t, kp, "test-chain", 1, now, time.Hour)
	params := datamodel.Parameters{MaxInstructionsPerTx: 10}

	if _, err := Accept(tx, "other-chain", params, now); err != ErrWrongChain {
		t.Fatalf("Accept() = %v, want ErrWrongChain", err)
	}
}

func TestAcceptRejectsExpired(t *testing.T) {
	kp := mustKeyPair(t)
	created := time.Now().Add(-2 * time.Hour)
	tx := signedTx(t, kp, "test-chain", 1, created, time.Hour)
	params := datamodel.Parameters{MaxInstructionsPerTx: 10}

	if _, err := Accept(tx, "test-chain", params, time.Now()); err != ErrExpired {
		t.Fatalf("Accept() = %v, want ErrExpired", err)
	}
}

func TestAcceptRejectsTooManyInstructions(t *testing.T) {
	kp := mustKeyPair(t)
	now := time.Now()
	tx := signedTx(t, kp, "test-chain", 5, now, time.Hour)
	params := datamodel.Parameters{MaxInstructionsPerTx: 2}

	if _, err := Accept(tx, "test-chain", params, now); err != ErrTooManyInstructions {
		t.Fatalf("Accept() = %v, want ErrTooManyInstructions", err)
	}
}

func TestAcceptRejectsBadSignature(t *testing.T) {
	kp := mustKeyPair(t)
	now := time.Now()
	tx := signedTx(t, kp, "test-chain", 1, now, time.Hour)
	tx.Instructions[0].Log.Message = "tampered" // payload changes, signature no longer verifies
	params := datamodel.Parameters{MaxInstructionsPerTx: 10}

	if _, err := Accept(tx, "test-chain", params, now); err != ErrBadSignature {
		t.Fatalf("Accept() = %v, want ErrBadSignature", err)
	}
}
