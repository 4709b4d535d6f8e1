package kura

import (
	"testing"
	"time"

	"iroha-peer/internal/datamodel"
	"iroha-peer/internal/testutil"
)

func makeBlock(height uint64, prev datamodel.Hash) *datamodel.SignedBlock {
	hdr := datamodel.BlockHeader{
		PrevHash:  prev,
		Height:    height,
		Timestamp: time.Unix(int64(height), 0),
	}
	return &datamodel.SignedBlock{Block: datamodel.Block{Header: hdr}}
}

func TestStoreAndGetBlockRoundTrip(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	k, err := Open(Config{StorePath: sb.Path("blocks.data"), InitMode: Strict, BlocksInMemory: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer k.Close()

	b1 := makeBlock(1, datamodel.Hash{})
	if err := k.StoreBlock(b1); err != nil {
		t.Fatalf("StoreBlock(1): %v", err)
	}
	h1, _ := b1.Block.Hash()
	b2 := makeBlock(2, h1.Hash())
	if err := k.StoreBlock(b2); err != nil {
		t.Fatalf("StoreBlock(2): %v", err)
	}

	if k.BlockCount() != 2 {
		t.Fatalf("BlockCount() = %d, want 2", k.BlockCount())
	}

	got, err := k.GetBlock(1)
	if err != nil {
		t.Fatalf("GetBlock(1): %v", err)
	}
	if got == nil || got.Block.Header.Height != 1 {
		t.Fatalf("GetBlock(1) = %+v", got)
	}

	h2, _ := b2.Block.Hash()
	if height := k.GetBlockHeightByHash(h2.Hash()); height != 2 {
		t.Fatalf("GetBlockHeightByHash(h2) = %d, want 2", height)
	}
}

func TestStoreBlockRejectsOutOfOrderHeight(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	k, err := Open(Config{StorePath: sb.Path("blocks.data"), InitMode: Fast, BlocksInMemory: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer k.Close()

	if err := k.StoreBlock(makeBlock(2, datamodel.Hash{})); err == nil {
		t.Fatalf("expected error storing height 2 before height 1")
	}
}

func TestReplayIndexAfterReopen(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	path := sb.Path("blocks.data")
	k, err := Open(Config{StorePath: path, InitMode: Strict, BlocksInMemory: 1})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for h := uint64(1); h <= 3; h++ {
		if err := k.StoreBlock(makeBlock(h, datamodel.Hash{})); err != nil {
			t.Fatalf("StoreBlock(%d): %v", h, err)
		}
	}
	if err := k.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(Config{StorePath: path, InitMode: Strict, BlocksInMemory: 1})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.BlockCount() != 3 {
		t.Fatalf("BlockCount() after reopen = %d, want 3", reopened.BlockCount())
	}
	blk, err := reopened.GetBlock(2)
	if err != nil || blk == nil || blk.Block.Header.Height != 2 {
		t.Fatalf("GetBlock(2) after reopen = %+v, %v", blk, err)
	}
}
