package wsv

import (
	"testing"

	"iroha-peer/internal/datamodel"
)

func newTestWorld() *datamodel.World {
	return datamodel.NewWorld("test-chain")
}

func TestOnlyOneBlockScopeAtATime(t *testing.T) {
	w := New(newTestWorld())
	bt, err := w.OpenBlock(datamodel.BlockHeader{Height: 1})
	if err != nil {
		t.Fatalf("OpenBlock: %v", err)
	}
	if _, err := w.OpenBlock(datamodel.BlockHeader{Height: 1}); err != ErrBlockScopeAlreadyOpen {
		t.Fatalf("expected ErrBlockScopeAlreadyOpen, got %v", err)
	}
	bt.Commit()
	if _, err := w.OpenBlock(datamodel.BlockHeader{Height: 2}); err != nil {
		t.Fatalf("OpenBlock after commit: %v", err)
	}
}

func TestCommitAppliesMutationsAndEmitsEvents(t *testing.T) {
	w := New(newTestWorld())
	bt, err := w.OpenBlock(datamodel.BlockHeader{Height: 1})
	if err != nil {
		t.Fatalf("OpenBlock: %v", err)
	}

	tx := bt.Begin()
	tx.Stage(func(world *datamodel.World) {
		world.Domains["wonderland"] = &datamodel.Domain{
			Id:       "wonderland",
			Accounts: make(map[datamodel.AccountId]*datamodel.Account),
		}
	})
	tx.Emit(Event{Kind: datamodel.EventData, Entity: "wonderland"})
	tx.Apply()

	events := bt.Commit()
	if len(events) != 1 || events[0].Entity != "wonderland" {
		t.Fatalf("expected one promoted event, got %v", events)
	}

	if _, err := w.View().Domain("wonderland"); err != nil {
		t.Fatalf("domain not committed: %v", err)
	}
}

func TestRevertDiscardsMutations(t *testing.T) {
	w := New(newTestWorld())
	bt, err := w.OpenBlock(datamodel.BlockHeader{Height: 1})
	if err != nil {
		t.Fatalf("OpenBlock: %v", err)
	}

	tx := bt.Begin()
	tx.Stage(func(world *datamodel.World) {
		world.Domains["wonderland"] = &datamodel.Domain{Id: "wonderland"}
	})
	// Note: never calling tx.Apply() — the transaction is implicitly
	// reverted and its mutation must never reach the block scope.
	bt.Revert()

	if _, err := w.View().Domain("wonderland"); err == nil {
		t.Fatalf("expected domain to be absent after revert")
	}

	if _, err := w.OpenBlock(datamodel.BlockHeader{Height: 1}); err != nil {
		t.Fatalf("OpenBlock after revert: %v", err)
	}
}

func TestTriggerDispatchThroughWorld(t *testing.T) {
	world := newTestWorld()
	w := New(world)

	filter := datamodel.EventFilter{Kind: datamodel.EventData, Entity: "alice"}
	world.RegisterTriggerSubscription(&datamodel.Trigger{Id: "t1", Action: datamodel.TriggerAction{Filter: filter}})

	matches := w.View().world.MatchingTriggers(datamodel.EventData, "alice")
	if len(matches) != 1 || matches[0] != "t1" {
		t.Fatalf("expected trigger t1 to match, got %v", matches)
	}
}
