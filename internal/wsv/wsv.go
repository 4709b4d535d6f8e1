// Package wsv implements the world state view: read-only views over a
// datamodel.World plus block-scoped and transaction-scoped transactional
// handles with trigger-event emission.
package wsv

import (
	"encoding/gob"
	"errors"
	"sync"

	"iroha-peer/internal/datamodel"
)

// ErrBlockScopeAlreadyOpen is returned by OpenBlock when a peer already has
// an in-flight block scope.
var ErrBlockScopeAlreadyOpen = errors.New("wsv: a block scope is already open")

// WSV owns the authoritative World and hands out scopes over it. There is
// exactly one WSV per peer process.
type WSV struct {
	mu    sync.RWMutex
	world *datamodel.World

	blockMu   sync.Mutex
	blockOpen bool
}

// New wraps an existing World (already populated by genesis or restored
// from a snapshot) in a WSV.
func New(world *datamodel.World) *WSV {
	return &WSV{world: world}
}

// View returns a read-only, cheap-to-clone snapshot handle. Concurrent
// readers observe the pre-block state until the in-flight block scope
// commits.
func (w *WSV) View() *View {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return &View{world: w.world}
}

// OpenBlock opens the single block-scoped transactional handle for header.
// Returns ErrBlockScopeAlreadyOpen if another block scope is already active.
func (w *WSV) OpenBlock(header datamodel.BlockHeader) (*BlockTransaction, error) {
	w.blockMu.Lock()
	if w.blockOpen {
		w.blockMu.Unlock()
		return nil, ErrBlockScopeAlreadyOpen
	}
	w.blockOpen = true
	w.blockMu.Unlock()

	return &BlockTransaction{
		wsv:    w,
		header: header,
	}, nil
}

// releaseBlockScope is called by BlockTransaction.Commit and
// BlockTransaction.Revert to free the single-writer slot.
func (w *WSV) releaseBlockScope() {
	w.blockMu.Lock()
	w.blockOpen = false
	w.blockMu.Unlock()
}

// World exposes the underlying World for components (kura, snapshot) that
// need to serialize or restore it wholesale. Callers must not mutate it
// outside of a BlockTransaction's Commit.
func (w *WSV) World() *datamodel.World {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.world
}

// EncodeWorld serializes the World through enc while holding the read
// lock, so an in-flight block commit cannot mutate state mid-encoding.
func (w *WSV) EncodeWorld(enc *gob.Encoder) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return enc.Encode(w.world)
}
