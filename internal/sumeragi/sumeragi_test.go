package sumeragi

import (
	"context"
	"sync"
	"testing"
	"time"

	"iroha-peer/internal/datamodel"
	"iroha-peer/internal/kura"
	"iroha-peer/internal/queue"
	"iroha-peer/internal/testutil"
	"iroha-peer/internal/wsv"
)

// fakeNet records broadcasts and delivers nothing: enough for a single-peer
// topology, where the only messages that matter are the ones the peer
// dispatches to itself.
type fakeNet struct {
	mu   sync.Mutex
	sent []Message
}

func (f *fakeNet) Broadcast(topic string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeNet) SendTo(peer datamodel.PeerId, topic string, msg Message) error {
	return f.Broadcast(topic, msg)
}

func (f *fakeNet) Subscribe(topic string) (<-chan Inbound, func()) {
	return make(chan Inbound), func() {}
}

func (f *fakeNet) kinds() []MessageKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]MessageKind, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.Kind
	}
	return out
}

func TestSinglePeerCommitsOwnBlock(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	k, err := kura.Open(kura.Config{StorePath: sb.Path("blocks.data"), InitMode: kura.Fast, BlocksInMemory: 4})
	if err != nil {
		t.Fatalf("kura.Open: %v", err)
	}
	defer k.Close()

	world := datamodel.NewWorld("test-chain")
	world.Parameters = datamodel.Parameters{
		BlockTime:     20 * time.Millisecond,
		CommitTimeout: 5 * time.Second,
	}
	w := wsv.New(world)
	q := queue.New(queue.Config{Capacity: 16, CapacityPerUser: 16, TransactionTTL: time.Hour})

	kp, err := datamodel.GenerateKeyPair("ed25519")
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	net := &fakeNet{}
	s := New(nil, w, k, q, nil, net, Config{Self: kp, Peers: []datamodel.PeerId{kp.Public}})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.runHeight(ctx)

	if got := s.Height(); got != 1 {
		t.Fatalf("Height() = %d, want 1", got)
	}
	if got := k.BlockCount(); got != 1 {
		t.Fatalf("kura.BlockCount() = %d, want 1", got)
	}

	blk, err := k.GetBlock(1)
	if err != nil || blk == nil {
		t.Fatalf("GetBlock(1) = %v, %v", blk, err)
	}
	if blk.Signatures.Len() != 1 {
		t.Fatalf("stored block carries %d signatures, want the full certificate (1)", blk.Signatures.Len())
	}
	if !blk.Signatures.Contains(kp.Public) {
		t.Fatalf("stored certificate does not carry this peer's own signature")
	}

	kinds := net.kinds()
	var sawCreated, sawCommitted bool
	for _, kind := range kinds {
		switch kind {
		case MessageBlockCreated:
			sawCreated = true
		case MessageBlockCommitted:
			sawCommitted = true
		}
	}
	if !sawCreated || !sawCommitted {
		t.Fatalf("expected BlockCreated and BlockCommitted broadcasts, got %v", kinds)
	}
}

func TestApplyBlockSyncUpdateRejectsHeightGap(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()

	k, err := kura.Open(kura.Config{StorePath: sb.Path("blocks.data"), InitMode: kura.Fast, BlocksInMemory: 4})
	if err != nil {
		t.Fatalf("kura.Open: %v", err)
	}
	defer k.Close()

	kp, err := datamodel.GenerateKeyPair("ed25519")
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	w := wsv.New(datamodel.NewWorld("test-chain"))
	q := queue.New(queue.Config{Capacity: 16, CapacityPerUser: 16, TransactionTTL: time.Hour})
	s := New(nil, w, k, q, nil, &fakeNet{}, Config{Self: kp, Peers: []datamodel.PeerId{kp.Public}})

	gap := datamodel.SignedBlock{Block: datamodel.Block{Header: datamodel.BlockHeader{Height: 5}}}
	if err := s.ApplyBlockSyncUpdate(gap); err == nil {
		t.Fatalf("expected height-gap rejection, got nil")
	}
}
