package wsv

import "iroha-peer/internal/datamodel"

// mutation is a staged change to the World. Mutations are collected by
// TransactionTransaction and only ever run against the real World inside
// BlockTransaction.Commit, which is the sole place apply is infallible by
// construction.
type mutation func(*datamodel.World)

// BlockTransaction is the block-scoped transactional handle opened against
// a BlockHeader. Individual transactions open nested
// TransactionTransaction handles against it.
type BlockTransaction struct {
	wsv    *WSV
	header datamodel.BlockHeader

	mutations []mutation
	events    eventBuffer
	done      bool
}

// Begin opens a nested transaction-scoped handle for one transaction within
// this block.
func (b *BlockTransaction) Begin() *TransactionTransaction {
	return &TransactionTransaction{parent: b}
}

// Header returns the BlockHeader this scope was opened against.
func (b *BlockTransaction) Header() datamodel.BlockHeader { return b.header }

// Commit atomically installs every applied transaction's staged mutations
// onto the World and publishes the accumulated events.
func (b *BlockTransaction) Commit() []Event {
	if b.done {
		return nil
	}
	b.wsv.mu.Lock()
	for _, m := range b.mutations {
		m(b.wsv.world)
	}
	b.wsv.mu.Unlock()

	b.done = true
	b.wsv.releaseBlockScope()
	return b.events.drain()
}

// Revert discards every staged mutation and event without touching the
// World, releasing the single-writer slot.
func (b *BlockTransaction) Revert() {
	if b.done {
		return
	}
	b.mutations = nil
	b.events.drain()
	b.done = true
	b.wsv.releaseBlockScope()
}

// TransactionTransaction is the transaction-scoped handle: supports Apply
// (promote changes to block scope) and implicit revert on drop without
// Apply. Go has no destructors, so the caller is expected to call Apply on
// the success path and simply let the handle go out of scope (or call
// Revert explicitly for clarity) otherwise.
type TransactionTransaction struct {
	parent    *BlockTransaction
	mutations []mutation
	events    eventBuffer
	applied   bool
}

// Stage records a mutation to run if this transaction is applied.
func (t *TransactionTransaction) Stage(m mutation) {
	t.mutations = append(t.mutations, m)
}

// Emit records an event to be promoted to the block buffer on Apply.
func (t *TransactionTransaction) Emit(e Event) {
	t.events.emit(e)
}

// Apply promotes this transaction's staged mutations and events into the
// parent block scope. Idempotent: calling Apply twice only promotes once.
func (t *TransactionTransaction) Apply() {
	if t.applied {
		return
	}
	t.applied = true
	t.parent.mutations = append(t.parent.mutations, t.mutations...)
	for _, e := range t.events.drain() {
		t.parent.events.emit(e)
	}
}

// Revert discards this transaction's staged mutations and events. Calling
// it is optional (a TransactionTransaction that is never Applied has no
// effect by construction) but documents the intent at call sites that
// detect a failure.
func (t *TransactionTransaction) Revert() {
	t.mutations = nil
	t.events.drain()
}

// View exposes a read-only view of the World. What is staged so far is NOT
// reflected here: nested scopes see the pre-block snapshot,
// not their own uncommitted writes layered on top, so instruction execution
// within one transaction must track its own working set explicitly (done by
// the txpipeline/executor layer, not by wsv).
func (t *TransactionTransaction) View() *View {
	return t.parent.wsv.View()
}
