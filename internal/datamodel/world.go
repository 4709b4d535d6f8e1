package datamodel

import (
	"bytes"
	"encoding/gob"
	"sync"
)

// Executor is the host's view of the currently installed WASM policy
// module: its raw bytes plus the hash that pins it, so an Upgrade
// instruction's atomicity can be checked against what a peer
// already has loaded.
type Executor struct {
	Wasm []byte
	Hash Hash
}

// PermissionSchema is the JSON schema the executor published the last time
// Migrate ran via set_permission_token_schema. Opaque to the
// core beyond "replace on migrate".
type PermissionSchema struct {
	Raw []byte
}

// World owns every entity in the data model plus the cross-cutting policy
// state: the current Executor module, the current
// PermissionSchema, Parameters, the trusted PeerId set, and the trigger
// dispatch index. WSV transactional scopes (package wsv) are views over a
// World; World itself never exposes partial/uncommitted state.
type World struct {
	mu sync.RWMutex

	// Chain identifies which chain this World's wire messages and hashes
	// belong to, preventing cross-chain replay.
	Chain      ChainId
	Domains    map[DomainId]*Domain
	Triggers   map[TriggerId]*Trigger
	Roles      map[RoleId]*Role
	Peers      map[PeerId]*Peer
	Parameters Parameters
	Executor   Executor
	Schema     PermissionSchema

	// triggerIndex maps (EventKind, entity) to the sorted list of
	// TriggerIds subscribed to it. Dispatch order is fixed to TriggerId
	// order rather than Go map iteration order.
	triggerIndex map[triggerIndexKey][]TriggerId
}

type triggerIndexKey struct {
	kind   EventKind
	entity string
}

// NewWorld constructs an empty World, ready to be populated by the genesis
// block's instructions.
func NewWorld(chain ChainId) *World {
	return &World{
		Chain:        chain,
		Domains:      make(map[DomainId]*Domain),
		Triggers:     make(map[TriggerId]*Trigger),
		Roles:        make(map[RoleId]*Role),
		Peers:        make(map[PeerId]*Peer),
		triggerIndex: make(map[triggerIndexKey][]TriggerId),
	}
}

// Domain looks up a domain, reporting ErrNotFound if absent. Every
// AccountId.DomainId reference in the data model is expected to resolve via
// this call.
func (w *World) Domain(id DomainId) (*Domain, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	d, ok := w.Domains[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

// Account resolves an AccountId through its owning domain.
func (w *World) Account(id AccountId) (*Account, error) {
	d, err := w.Domain(id.Domain)
	if err != nil {
		return nil, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	a, ok := d.Accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

// Asset resolves an AssetId through its owning account.
func (w *World) Asset(id AssetId) (*Asset, error) {
	acc, err := w.Account(id.Account)
	if err != nil {
		return nil, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	a, ok := acc.Assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

// RegisterTriggerSubscription indexes trigger by its filter so dispatch is
// O(subscribers) rather than O(all triggers).
func (w *World) RegisterTriggerSubscription(t *Trigger) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := triggerIndexKey{kind: t.Action.Filter.Kind, entity: t.Action.Filter.Entity}
	ids := w.triggerIndex[key]
	ids = append(ids, t.Id)
	sortTriggerIds(ids)
	w.triggerIndex[key] = ids
}

// UnregisterTriggerSubscription removes id from the index for kind/entity.
func (w *World) UnregisterTriggerSubscription(kind EventKind, entity string, id TriggerId) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := triggerIndexKey{kind: kind, entity: entity}
	ids := w.triggerIndex[key]
	for i, existing := range ids {
		if existing == id {
			w.triggerIndex[key] = append(ids[:i], ids[i+1:]...)
			return
		}
	}
}

// MatchingTriggers returns, in TriggerId order, every subscribed trigger for
// an event of kind against entity.
func (w *World) MatchingTriggers(kind EventKind, entity string) []TriggerId {
	w.mu.RLock()
	defer w.mu.RUnlock()
	key := triggerIndexKey{kind: kind, entity: entity}
	ids := w.triggerIndex[key]
	out := make([]TriggerId, len(ids))
	copy(out, ids)
	return out
}

// gobWorld mirrors World's exported fields; triggerIndex and mu are
// unexported and gob drops them silently, which would leave a restored
// World unable to dispatch triggers at all. GobDecode rebuilds the index instead of
// trying to serialize it, since it is wholly derived from Triggers.
type gobWorld struct {
	Chain      ChainId
	Domains    map[DomainId]*Domain
	Triggers   map[TriggerId]*Trigger
	Roles      map[RoleId]*Role
	Peers      map[PeerId]*Peer
	Parameters Parameters
	Executor   Executor
	Schema     PermissionSchema
}

func (w *World) GobEncode() ([]byte, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var buf bytes.Buffer
	g := gobWorld{
		Chain: w.Chain, Domains: w.Domains, Triggers: w.Triggers,
		Roles: w.Roles, Peers: w.Peers, Parameters: w.Parameters,
		Executor: w.Executor, Schema: w.Schema,
	}
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (w *World) GobDecode(data []byte) error {
	var g gobWorld
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return err
	}
	w.Chain, w.Domains, w.Triggers, w.Roles, w.Peers, w.Parameters, w.Executor, w.Schema =
		g.Chain, g.Domains, g.Triggers, g.Roles, g.Peers, g.Parameters, g.Executor, g.Schema
	if w.Domains == nil {
		w.Domains = make(map[DomainId]*Domain)
	}
	if w.Triggers == nil {
		w.Triggers = make(map[TriggerId]*Trigger)
	}
	if w.Roles == nil {
		w.Roles = make(map[RoleId]*Role)
	}
	if w.Peers == nil {
		w.Peers = make(map[PeerId]*Peer)
	}
	w.triggerIndex = make(map[triggerIndexKey][]TriggerId)
	for _, t := range w.Triggers {
		w.RegisterTriggerSubscription(t)
	}
	return nil
}

func sortTriggerIds(ids []TriggerId) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
