package snapshot

import (
	"testing"
	"time"

	"iroha-peer/internal/datamodel"
	"iroha-peer/internal/kura"
	"iroha-peer/internal/testutil"
	"iroha-peer/internal/wsv"
)

func makeBlock(height uint64, prev datamodel.Hash) *datamodel.SignedBlock {
	hdr := datamodel.BlockHeader{PrevHash: prev, Height: height, Timestamp: time.Unix(int64(height), 0)}
	return &datamodel.SignedBlock{Block: datamodel.Block{Header: hdr}}
}

func openKura(t *testing.T, dir string) *kura.Kura {
	t.Helper()
	k, err := kura.Open(kura.Config{StorePath: dir + "/blocks.data", InitMode: kura.Strict, BlocksInMemory: 4})
	if err != nil {
		t.Fatalf("kura.Open: %v", err)
	}
	return k
}

func TestWriteThenRestoreRoundTrip(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	k := openKura(t, sb.Path("kura"))
	defer k.Close()

	b1 := makeBlock(1, datamodel.Hash{})
	if err := k.StoreBlock(b1); err != nil {
		t.Fatalf("StoreBlock: %v", err)
	}

	w := wsv.New(datamodel.NewWorld("test-chain"))
	snap := New(nil, w, k, Config{Mode: ModeReadWrite, CreateEvery: time.Hour, StoreDir: sb.Path("snap")})
	if err := snap.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	result, err := Restore(nil, k, sb.Path("snap"))
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if result.Outcome != OutcomeRestore {
		t.Fatalf("Outcome = %v, want OutcomeRestore", result.Outcome)
	}
	if result.ReplayFrom != 2 {
		t.Fatalf("ReplayFrom = %d, want 2", result.ReplayFrom)
	}
	if result.World == nil || result.World.Chain != "test-chain" {
		t.Fatalf("World = %+v, want chain id preserved", result.World)
	}
}

func TestRestoreWithNoSnapshotFile(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	k := openKura(t, sb.Path("kura"))
	defer k.Close()

	result, err := Restore(nil, k, sb.Path("snap"))
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if result.Outcome != OutcomeNone || result.ReplayFrom != 1 {
		t.Fatalf("Restore() = %+v, want OutcomeNone from height 1", result)
	}
}

func TestRestoreDetectsSoftForkOnTip(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	k := openKura(t, sb.Path("kura"))
	defer k.Close()

	b1 := makeBlock(1, datamodel.Hash{})
	if err := k.StoreBlock(b1); err != nil {
		t.Fatalf("StoreBlock: %v", err)
	}

	w := wsv.New(datamodel.NewWorld("test-chain"))
	snap := New(nil, w, k, Config{Mode: ModeReadWrite, CreateEvery: time.Hour, StoreDir: sb.Path("snap")})
	if err := snap.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Replace block 1 in kura with a different one at the same height,
	// simulating a soft fork on the tip the snapshot was taken against.
	k2 := openKura(t, sb.Path("kura2"))
	defer k2.Close()
	forked := makeBlock(1, datamodel.Hash{1, 2, 3})
	if err := k2.StoreBlock(forked); err != nil {
		t.Fatalf("StoreBlock forked: %v", err)
	}

	result, err := Restore(nil, k2, sb.Path("snap"))
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if result.Outcome != OutcomeSoftForkDiscard {
		t.Fatalf("Outcome = %v, want OutcomeSoftForkDiscard", result.Outcome)
	}
	if result.ReplayFrom != 1 {
		t.Fatalf("ReplayFrom = %d, want 1", result.ReplayFrom)
	}
}
