// Package txpipeline implements the accept -> validate -> execute -> commit
// transaction state machine and instruction execution, driving a
// wsv.BlockTransaction/TransactionTransaction pair per transaction.
package txpipeline

import (
	"iroha-peer/internal/datamodel"
	"iroha-peer/internal/wsv"
)

// overlay is the per-transaction working set: within one
// transaction, instruction N+1 must observe instruction N's writes even
// though wsv.View never reflects uncommitted state. overlay clones an
// entity into its local maps the first time an instruction touches it, and
// every subsequent read/write for that transaction goes through the clone.
// At the end of the transaction, diffs are staged as wsv mutations so they
// only reach the World on block commit.
type overlay struct {
	view *wsv.View

	// parent is the block-level cumulative overlay a per-transaction
	// overlay reads through, so transaction N+1 observes transaction N's
	// applied writes before the block commits. nil for the block-level
	// overlay itself.
	parent *overlay

	domains    map[datamodel.DomainId]*datamodel.Domain
	accounts   map[datamodel.AccountId]*datamodel.Account
	assetDefs  map[datamodel.AssetDefinitionId]*datamodel.AssetDefinition
	assets     map[datamodel.AssetId]*datamodel.Asset
	roles      map[datamodel.RoleId]*datamodel.Role
	peers      map[datamodel.PeerId]*datamodel.Peer

	removedAssets    map[datamodel.AssetId]bool
	removedAccounts  map[datamodel.AccountId]bool
	removedDomains   map[datamodel.DomainId]bool
	removedAssetDefs map[datamodel.AssetDefinitionId]bool
	removedRoles     map[datamodel.RoleId]bool
	removedTriggers  map[datamodel.TriggerId]bool
	removedPeers     map[datamodel.PeerId]bool

	triggers   map[datamodel.TriggerId]*datamodel.Trigger
	parameters *datamodel.Parameters
	executor   *datamodel.Executor
	schema     *datamodel.PermissionSchema
}

func newOverlay(view *wsv.View) *overlay {
	return &overlay{
		view:             view,
		domains:          make(map[datamodel.DomainId]*datamodel.Domain),
		accounts:         make(map[datamodel.AccountId]*datamodel.Account),
		assetDefs:        make(map[datamodel.AssetDefinitionId]*datamodel.AssetDefinition),
		assets:           make(map[datamodel.AssetId]*datamodel.Asset),
		roles:            make(map[datamodel.RoleId]*datamodel.Role),
		peers:            make(map[datamodel.PeerId]*datamodel.Peer),
		removedAssets:    make(map[datamodel.AssetId]bool),
		removedAccounts:  make(map[datamodel.AccountId]bool),
		removedDomains:   make(map[datamodel.DomainId]bool),
		removedAssetDefs: make(map[datamodel.AssetDefinitionId]bool),
		removedRoles:     make(map[datamodel.RoleId]bool),
		removedTriggers:  make(map[datamodel.TriggerId]bool),
		removedPeers:     make(map[datamodel.PeerId]bool),
		triggers:         make(map[datamodel.TriggerId]*datamodel.Trigger),
	}
}

// newChildOverlay opens a per-transaction overlay reading through parent,
// the block-level cumulative overlay.
func newChildOverlay(parent *overlay) *overlay {
	o := newOverlay(parent.view)
	o.parent = parent
	return o
}

func cloneDomain(d *datamodel.Domain) *datamodel.Domain {
	out := *d
	out.Metadata = d.Metadata.Clone()
	out.Accounts = make(map[datamodel.AccountId]*datamodel.Account, len(d.Accounts))
	for k, v := range d.Accounts {
		out.Accounts[k] = v
	}
	out.AssetDefinitions = make(map[datamodel.AssetDefinitionId]*datamodel.AssetDefinition, len(d.AssetDefinitions))
	for k, v := range d.AssetDefinitions {
		out.AssetDefinitions[k] = v
	}
	return &out
}

func cloneAccount(a *datamodel.Account) *datamodel.Account {
	out := *a
	out.Metadata = a.Metadata.Clone()
	out.Signatories = make(map[datamodel.PublicKey]struct{}, len(a.Signatories))
	for k := range a.Signatories {
		out.Signatories[k] = struct{}{}
	}
	out.Assets = make(map[datamodel.AssetId]*datamodel.Asset, len(a.Assets))
	for k, v := range a.Assets {
		out.Assets[k] = v
	}
	out.Roles = make(map[datamodel.RoleId]struct{}, len(a.Roles))
	for k := range a.Roles {
		out.Roles[k] = struct{}{}
	}
	out.Permissions = make(map[datamodel.Permission]struct{}, len(a.Permissions))
	for k := range a.Permissions {
		out.Permissions[k] = struct{}{}
	}
	return &out
}

// domain returns the overlay's working copy of id, cloning from the parent
// overlay (or the view) on first touch.
func (o *overlay) domain(id datamodel.DomainId) (*datamodel.Domain, error) {
	if o.removedDomains[id] {
		return nil, datamodel.ErrNotFound
	}
	if d, ok := o.domains[id]; ok {
		return d, nil
	}
	var src *datamodel.Domain
	if o.parent != nil {
		p, err := o.parent.domain(id)
		if err != nil {
			return nil, err
		}
		src = p
	} else {
		d, err := o.view.Domain(id)
		if err != nil {
			return nil, err
		}
		src = d
	}
	clone := cloneDomain(src)
	o.domains[id] = clone
	return clone, nil
}

func (o *overlay) account(id datamodel.AccountId) (*datamodel.Account, error) {
	if o.removedAccounts[id] {
		return nil, datamodel.ErrNotFound
	}
	if a, ok := o.accounts[id]; ok {
		return a, nil
	}
	if _, err := o.domain(id.Domain); err != nil {
		return nil, err
	}
	var src *datamodel.Account
	if o.parent != nil {
		p, err := o.parent.account(id)
		if err != nil {
			return nil, err
		}
		src = p
	} else {
		a, err := o.view.Account(id)
		if err != nil {
			return nil, err
		}
		src = a
	}
	clone := cloneAccount(src)
	o.accounts[id] = clone
	return clone, nil
}

func (o *overlay) assetDefinition(id datamodel.AssetDefinitionId) (*datamodel.AssetDefinition, error) {
	if o.removedAssetDefs[id] {
		return nil, datamodel.ErrNotFound
	}
	if d, ok := o.assetDefs[id]; ok {
		return d, nil
	}
	dom, err := o.domain(id.Domain)
	if err != nil {
		return nil, err
	}
	d, ok := dom.AssetDefinitions[id]
	if !ok {
		return nil, datamodel.ErrNotFound
	}
	clone := *d
	o.assetDefs[id] = &clone
	return &clone, nil
}

func (o *overlay) asset(id datamodel.AssetId) (*datamodel.Asset, error) {
	if o.removedAssets[id] {
		return nil, datamodel.ErrNotFound
	}
	if a, ok := o.assets[id]; ok {
		return a, nil
	}
	acc, err := o.account(id.Account)
	if err != nil {
		return nil, err
	}
	a, ok := acc.Assets[id]
	if !ok {
		return nil, datamodel.ErrNotFound
	}
	clone := *a
	clone.Value.Store = a.Value.Store.Clone()
	o.assets[id] = &clone
	return &clone, nil
}

func (o *overlay) role(id datamodel.RoleId) (*datamodel.Role, error) {
	if o.removedRoles[id] {
		return nil, datamodel.ErrNotFound
	}
	if r, ok := o.roles[id]; ok {
		return r, nil
	}
	var r *datamodel.Role
	if o.parent != nil {
		p, err := o.parent.role(id)
		if err != nil {
			return nil, err
		}
		r = p
	} else {
		v, err := o.view.Role(id)
		if err != nil {
			return nil, err
		}
		r = v
	}
	clone := *r
	clone.Permissions = make(map[datamodel.Permission]struct{}, len(r.Permissions))
	for k := range r.Permissions {
		clone.Permissions[k] = struct{}{}
	}
	o.roles[id] = &clone
	return &clone, nil
}

// putAsset records a - newly created or mutated - as the account's working
// copy, keeping the account overlay's Assets map in sync.
func (o *overlay) putAsset(a *datamodel.Asset) error {
	acc, err := o.account(a.Id.Account)
	if err != nil {
		return err
	}
	acc.Assets[a.Id] = a
	o.assets[a.Id] = a
	delete(o.removedAssets, a.Id)
	return nil
}

func (o *overlay) putAccount(a *datamodel.Account) error {
	dom, err := o.domain(a.Id.Domain)
	if err != nil {
		return err
	}
	dom.Accounts[a.Id] = a
	o.accounts[a.Id] = a
	delete(o.removedAccounts, a.Id)
	return nil
}

func (o *overlay) putDomain(d *datamodel.Domain) {
	o.domains[d.Id] = d
	delete(o.removedDomains, d.Id)
}

func (o *overlay) putAssetDefinition(d *datamodel.AssetDefinition) error {
	dom, err := o.domain(d.Id.Domain)
	if err != nil {
		return err
	}
	dom.AssetDefinitions[d.Id] = d
	o.assetDefs[d.Id] = d
	delete(o.removedAssetDefs, d.Id)
	return nil
}

func (o *overlay) putRole(r *datamodel.Role) {
	o.roles[r.Id] = r
	delete(o.removedRoles, r.Id)
}

func (o *overlay) putTrigger(t *datamodel.Trigger) {
	o.triggers[t.Id] = t
	delete(o.removedTriggers, t.Id)
}

// Removers also scrub the owning container's working copy, so a later
// overlay cloning that container does not resurrect the removed entity
// through its map.
func (o *overlay) removeAsset(id datamodel.AssetId) {
	o.removedAssets[id] = true
	delete(o.assets, id)
	if acc, ok := o.accounts[id.Account]; ok {
		delete(acc.Assets, id)
	}
}

func (o *overlay) removeAccount(id datamodel.AccountId) {
	o.removedAccounts[id] = true
	delete(o.accounts, id)
	if dom, ok := o.domains[id.Domain]; ok {
		delete(dom.Accounts, id)
	}
}

func (o *overlay) removeDomain(id datamodel.DomainId) {
	o.removedDomains[id] = true
	delete(o.domains, id)
}

func (o *overlay) removeAssetDefinition(id datamodel.AssetDefinitionId) {
	o.removedAssetDefs[id] = true
	delete(o.assetDefs, id)
	if dom, ok := o.domains[id.Domain]; ok {
		delete(dom.AssetDefinitions, id)
	}
}

func (o *overlay) removeRole(id datamodel.RoleId)       { o.removedRoles[id] = true; delete(o.roles, id) }
func (o *overlay) removeTrigger(id datamodel.TriggerId) { o.removedTriggers[id] = true; delete(o.triggers, id) }
func (o *overlay) removePeer(id datamodel.PeerId)       { o.removedPeers[id] = true; delete(o.peers, id) }

func (o *overlay) setParameters(p datamodel.Parameters) { o.parameters = &p }
func (o *overlay) setExecutor(e datamodel.Executor)     { o.executor = &e }
func (o *overlay) setSchema(s datamodel.PermissionSchema) { o.schema = &s }

// merge folds an applied child transaction's working set into this
// block-level overlay, so the next transaction reads the updated state.
func (o *overlay) merge(c *overlay) {
	for id, d := range c.domains {
		o.domains[id] = d
		delete(o.removedDomains, id)
	}
	for id := range c.removedDomains {
		o.removedDomains[id] = true
		delete(o.domains, id)
	}
	for id, a := range c.accounts {
		o.accounts[id] = a
		delete(o.removedAccounts, id)
	}
	for id := range c.removedAccounts {
		o.removedAccounts[id] = true
		delete(o.accounts, id)
	}
	for id, d := range c.assetDefs {
		o.assetDefs[id] = d
		delete(o.removedAssetDefs, id)
	}
	for id := range c.removedAssetDefs {
		o.removedAssetDefs[id] = true
		delete(o.assetDefs, id)
	}
	for id, a := range c.assets {
		o.assets[id] = a
		delete(o.removedAssets, id)
	}
	for id := range c.removedAssets {
		o.removedAssets[id] = true
		delete(o.assets, id)
	}
	for id, r := range c.roles {
		o.roles[id] = r
		delete(o.removedRoles, id)
	}
	for id := range c.removedRoles {
		o.removedRoles[id] = true
		delete(o.roles, id)
	}
	for id, t := range c.triggers {
		o.triggers[id] = t
		delete(o.removedTriggers, id)
	}
	for id := range c.removedTriggers {
		o.removedTriggers[id] = true
		delete(o.triggers, id)
	}
	for id, p := range c.peers {
		o.peers[id] = p
		delete(o.removedPeers, id)
	}
	for id := range c.removedPeers {
		o.removedPeers[id] = true
		delete(o.peers, id)
	}
	if c.parameters != nil {
		o.parameters = c.parameters
	}
	if c.executor != nil {
		o.executor = c.executor
	}
	if c.schema != nil {
		o.schema = c.schema
	}
}

// stageMutations converts every touched/removed overlay entry into a single
// wsv mutation closure, applied atomically at block commit.
func (o *overlay) stageMutations() func(*datamodel.World) {
	domains := o.domains
	accounts := o.accounts
	assetDefs := o.assetDefs
	assets := o.assets
	roles := o.roles
	triggers := o.triggers
	removedAssets := o.removedAssets
	removedAccounts := o.removedAccounts
	removedDomains := o.removedDomains
	removedAssetDefs := o.removedAssetDefs
	removedRoles := o.removedRoles
	removedTriggers := o.removedTriggers
	peers := o.peers
	removedPeers := o.removedPeers
	parameters := o.parameters
	executor := o.executor
	schema := o.schema

	return func(w *datamodel.World) {
		for id, d := range domains {
			w.Domains[id] = d
		}
		for id := range removedDomains {
			delete(w.Domains, id)
		}
		for id, a := range accounts {
			if dom, ok := w.Domains[id.Domain]; ok {
				dom.Accounts[id] = a
			}
		}
		for id := range removedAccounts {
			if dom, ok := w.Domains[id.Domain]; ok {
				delete(dom.Accounts, id)
			}
		}
		for id, d := range assetDefs {
			if dom, ok := w.Domains[id.Domain]; ok {
				dom.AssetDefinitions[id] = d
			}
		}
		for id := range removedAssetDefs {
			if dom, ok := w.Domains[id.Domain]; ok {
				delete(dom.AssetDefinitions, id)
			}
		}
		for id, a := range assets {
			if dom, ok := w.Domains[id.Account.Domain]; ok {
				if acc, ok := dom.Accounts[id.Account]; ok {
					acc.Assets[id] = a
				}
			}
		}
		for id := range removedAssets {
			if dom, ok := w.Domains[id.Account.Domain]; ok {
				if acc, ok := dom.Accounts[id.Account]; ok {
					delete(acc.Assets, id)
				}
			}
		}
		for id, r := range roles {
			w.Roles[id] = r
		}
		for id := range removedRoles {
			delete(w.Roles, id)
		}
		for id, t := range triggers {
			w.Triggers[id] = t
			w.RegisterTriggerSubscription(t)
		}
		for id := range removedTriggers {
			if t, ok := w.Triggers[id]; ok {
				w.UnregisterTriggerSubscription(t.Action.Filter.Kind, t.Action.Filter.Entity, id)
			}
			delete(w.Triggers, id)
		}
		for id, p := range peers {
			w.Peers[id] = p
		}
		for id := range removedPeers {
			delete(w.Peers, id)
		}
		if parameters != nil {
			w.Parameters = *parameters
		}
		if executor != nil {
			w.Executor = *executor
		}
		if schema != nil {
			w.Schema = *schema
		}
	}
}
