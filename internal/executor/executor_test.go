package executor

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"iroha-peer/internal/datamodel"
	"iroha-peer/internal/wsv"
)

// compilePolicyWasm compiles testdata/policy.wat via the wat2wasm CLI,
// skipping gracefully when the toolchain isn't installed rather than
// failing the suite.
func compilePolicyWasm(t *testing.T) []byte {
	t.Helper()
	src := filepath.Join("testdata", "policy.wat")
	out := filepath.Join(t.TempDir(), "policy.wasm")
	cmd := exec.Command("wat2wasm", "-o", out, src)
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			t.Skip("wat2wasm not installed")
		}
		t.Fatalf("compile policy.wat: %v", err)
	}
	wasm, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read compiled wasm: %v", err)
	}
	return wasm
}

func newTestView() *wsv.View {
	world := datamodel.NewWorld("test-chain")
	return wsv.New(world).View()
}

func TestValidateTransactionAllows(t *testing.T) {
	wasm := compilePolicyWasm(t)
	e := New(nil)
	view := newTestView()

	tx := datamodel.SignedTransaction{
		Chain:     "test-chain",
		Authority: datamodel.AccountId{Domain: "wonderland"},
		CreatedAt: time.Now(),
	}

	verdict, err := e.ValidateTransaction(wasm, view, tx, nil, 1_000_000, 1<<20)
	if err != nil {
		t.Fatalf("ValidateTransaction: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected allowed verdict, got %+v", verdict)
	}
}

func TestValidateInstructionAllows(t *testing.T) {
	wasm := compilePolicyWasm(t)
	e := New(nil)
	view := newTestView()

	instr := datamodel.Instruction{Kind: datamodel.InstructionLog, Log: &datamodel.LogPayload{Level: "INFO", Message: "hi"}}

	applied := false
	apply := func(got datamodel.Instruction) error {
		applied = true
		return nil
	}

	verdict, err := e.ValidateInstruction(wasm, view, datamodel.AccountId{Domain: "wonderland"}, instr, apply, 1_000_000, 1<<20)
	if err != nil {
		t.Fatalf("ValidateInstruction: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected allowed verdict, got %+v", verdict)
	}
	// The sample policy module never calls execute_instruction itself, so
	// apply should not have run during validation.
	if applied {
		t.Fatalf("apply should not run unless the module calls execute_instruction")
	}
}

func TestMigratePublishesSchema(t *testing.T) {
	wasm := compilePolicyWasm(t)
	e := New(nil)
	view := newTestView()

	schema, err := e.Migrate(wasm, view, datamodel.AccountId{Domain: "wonderland"}, 1_000_000, 1<<20)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// The sample policy module never calls set_permission_token_schema, so
	// the schema should come back empty rather than erroring.
	if len(schema.Raw) != 0 {
		t.Fatalf("expected empty schema, got %v", schema.Raw)
	}
}

func TestFuelMeterExhaustion(t *testing.T) {
	m := NewFuelMeter(5)
	if err := m.Consume(3); err != nil {
		t.Fatalf("Consume(3): %v", err)
	}
	if err := m.Consume(3); err == nil {
		t.Fatalf("expected out-of-fuel error")
	}
	if m.Remaining() != 2 {
		t.Fatalf("Remaining() = %d, want 2", m.Remaining())
	}
}
