package datamodel

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
	"time"
)

// Domain groups accounts and asset definitions under a single owner.
type Domain struct {
	Id              DomainId
	Owner           AccountId
	Accounts        map[AccountId]*Account
	AssetDefinitions map[AssetDefinitionId]*AssetDefinition
	Metadata        Metadata
}

// CanonicalEncode gives Domain an explicit byte form with every map field
// sorted by key, so a Register(Domain) instruction reachable from
// HashOf[TransactionPayload] never falls back to gob's randomized map
// iteration order.
func (d Domain) CanonicalEncode() ([]byte, error) {
	var buf []byte
	buf = appendLenPrefixed(buf, []byte(d.Id))
	ownerBytes, err := d.Owner.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf = appendLenPrefixed(buf, ownerBytes)

	acctIds := make([]AccountId, 0, len(d.Accounts))
	for id := range d.Accounts {
		acctIds = append(acctIds, id)
	}
	sort.Slice(acctIds, func(i, j int) bool { return acctIds[i].String() < acctIds[j].String() })
	buf = appendUint64(buf, uint64(len(acctIds)))
	for _, id := range acctIds {
		idBytes, err := id.CanonicalEncode()
		if err != nil {
			return nil, err
		}
		buf = appendLenPrefixed(buf, idBytes)
		accBytes, err := d.Accounts[id].CanonicalEncode()
		if err != nil {
			return nil, err
		}
		buf = appendLenPrefixed(buf, accBytes)
	}

	defIds := make([]AssetDefinitionId, 0, len(d.AssetDefinitions))
	for id := range d.AssetDefinitions {
		defIds = append(defIds, id)
	}
	sort.Slice(defIds, func(i, j int) bool { return defIds[i].String() < defIds[j].String() })
	buf = appendUint64(buf, uint64(len(defIds)))
	for _, id := range defIds {
		idBytes, err := id.CanonicalEncode()
		if err != nil {
			return nil, err
		}
		buf = appendLenPrefixed(buf, idBytes)
		defBytes, err := d.AssetDefinitions[id].CanonicalEncode()
		if err != nil {
			return nil, err
		}
		buf = appendLenPrefixed(buf, defBytes)
	}

	metaBytes, err := d.Metadata.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf = appendLenPrefixed(buf, metaBytes)
	return buf, nil
}

// Account holds signatories, a signature-check condition expression, owned
// assets, metadata, roles and direct permissions.
type Account struct {
	Id                     AccountId
	Signatories            map[PublicKey]struct{}
	SignatureCheckCondition Expression
	Assets                 map[AssetId]*Asset
	Metadata               Metadata
	Roles                  map[RoleId]struct{}
	Permissions            map[Permission]struct{}
}

// Expression is the abstract evaluator contract for an account's
// signature-check condition. The core only ever calls Evaluate; the concrete
// expression language (boolean combinators over signatory checks) lives
// outside this package.
type Expression interface {
	Evaluate(signed map[PublicKey]struct{}) (bool, error)
}

// CanonicalEncode gives Account an explicit byte form with every map field
// sorted by key. SignatureCheckCondition is nil in every concrete expression
// currently registered; when set, the concrete value must implement
// Encodable itself, since there is no safe generic fallback for an
// interface-typed field.
func (a Account) CanonicalEncode() ([]byte, error) {
	var buf []byte
	idBytes, err := a.Id.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf = appendLenPrefixed(buf, idBytes)

	sigs := make([]PublicKey, 0, len(a.Signatories))
	for k := range a.Signatories {
		sigs = append(sigs, k)
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].String() < sigs[j].String() })
	buf = appendUint64(buf, uint64(len(sigs)))
	for _, k := range sigs {
		kBytes, err := k.CanonicalEncode()
		if err != nil {
			return nil, err
		}
		buf = appendLenPrefixed(buf, kBytes)
	}

	if a.SignatureCheckCondition == nil {
		buf = append(buf, 0)
	} else {
		enc, ok := a.SignatureCheckCondition.(Encodable)
		if !ok {
			return nil, fmt.Errorf("datamodel: account %v signature check condition %T does not implement Encodable", a.Id, a.SignatureCheckCondition)
		}
		condBytes, err := enc.CanonicalEncode()
		if err != nil {
			return nil, err
		}
		buf = append(buf, 1)
		buf = appendLenPrefixed(buf, condBytes)
	}

	assetIds := make([]AssetId, 0, len(a.Assets))
	for id := range a.Assets {
		assetIds = append(assetIds, id)
	}
	sort.Slice(assetIds, func(i, j int) bool { return assetIds[i].String() < assetIds[j].String() })
	buf = appendUint64(buf, uint64(len(assetIds)))
	for _, id := range assetIds {
		idBytes, err := id.CanonicalEncode()
		if err != nil {
			return nil, err
		}
		buf = appendLenPrefixed(buf, idBytes)
		assetBytes, err := a.Assets[id].CanonicalEncode()
		if err != nil {
			return nil, err
		}
		buf = appendLenPrefixed(buf, assetBytes)
	}

	metaBytes, err := a.Metadata.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf = appendLenPrefixed(buf, metaBytes)

	roles := make([]RoleId, 0, len(a.Roles))
	for r := range a.Roles {
		roles = append(roles, r)
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	buf = appendUint64(buf, uint64(len(roles)))
	for _, r := range roles {
		buf = appendLenPrefixed(buf, []byte(r))
	}

	perms := make([]Permission, 0, len(a.Permissions))
	for p := range a.Permissions {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Name != perms[j].Name {
			return perms[i].Name < perms[j].Name
		}
		return perms[i].Payload < perms[j].Payload
	})
	buf = appendUint64(buf, uint64(len(perms)))
	for _, p := range perms {
		pBytes, err := p.CanonicalEncode()
		if err != nil {
			return nil, err
		}
		buf = appendLenPrefixed(buf, pBytes)
	}
	return buf, nil
}

// AssetDefinition fixes the shape and mint policy of every Asset that
// references it.
type AssetDefinition struct {
	Id        AssetDefinitionId
	Owner     AccountId
	ValueKind AssetValueKind
	Spec      NumericSpec // meaningful only when ValueKind == AssetValueNumeric
	Mintable  Mintability
	minted    bool // tracks a MintableOnce definition's single mint
}

// Minted reports whether a MintableOnce definition has already been minted.
func (d *AssetDefinition) Minted() bool { return d.minted }

// MarkMinted records that this definition was minted once. Called only by
// the Mint instruction handler after a successful mint.
func (d *AssetDefinition) MarkMinted() { d.minted = true }

// gobAssetDefinition mirrors AssetDefinition's unexported minted field so a
// snapshot round-trip doesn't silently forget a MintableOnce definition was
// already minted.
type gobAssetDefinition struct {
	Id        AssetDefinitionId
	Owner     AccountId
	ValueKind AssetValueKind
	Spec      NumericSpec
	Mintable  Mintability
	Minted    bool
}

func (d AssetDefinition) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	g := gobAssetDefinition{
		Id: d.Id, Owner: d.Owner, ValueKind: d.ValueKind,
		Spec: d.Spec, Mintable: d.Mintable, Minted: d.minted,
	}
	if err := gob.NewEncoder(&buf).Encode(g); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *AssetDefinition) GobDecode(data []byte) error {
	var g gobAssetDefinition
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return err
	}
	d.Id, d.Owner, d.ValueKind, d.Spec, d.Mintable, d.minted =
		g.Id, g.Owner, g.ValueKind, g.Spec, g.Mintable, g.Minted
	return nil
}

// CanonicalEncode gives AssetDefinition an explicit byte form. It has no map
// fields, but gets one anyway so it never falls back to gob while nested
// inside a RegisterPayload reachable from HashOf[TransactionPayload].
func (d AssetDefinition) CanonicalEncode() ([]byte, error) {
	idBytes, err := d.Id.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	ownerBytes, err := d.Owner.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	specBytes, err := d.Spec.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	var buf []byte
	buf = appendLenPrefixed(buf, idBytes)
	buf = appendLenPrefixed(buf, ownerBytes)
	buf = appendUint32(buf, uint32(d.ValueKind))
	buf = appendLenPrefixed(buf, specBytes)
	buf = appendUint32(buf, uint32(d.Mintable))
	minted := byte(0)
	if d.minted {
		minted = 1
	}
	buf = append(buf, minted)
	return buf, nil
}

// AssetValue is a tagged union: either a Numeric balance, or an opaque
// Store (metadata-backed) value, matching the AssetDefinition.ValueKind it
// must conform to.
type AssetValue struct {
	Kind    AssetValueKind
	Numeric Numeric
	Store   Metadata
}

// CanonicalEncode gives AssetValue an explicit byte form.
func (v AssetValue) CanonicalEncode() ([]byte, error) {
	numBytes, err := v.Numeric.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	storeBytes, err := v.Store.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	var buf []byte
	buf = appendUint32(buf, uint32(v.Kind))
	buf = appendLenPrefixed(buf, numBytes)
	buf = appendLenPrefixed(buf, storeBytes)
	return buf, nil
}

// Asset is an instance of an AssetDefinition owned by an account.
type Asset struct {
	Id    AssetId
	Value AssetValue
}

// Conforms checks that the Asset.Value shape matches its definition's
// declared type.
func (a *Asset) Conforms(def *AssetDefinition) bool { return a.Value.Kind == def.ValueKind }

// CanonicalEncode gives Asset an explicit byte form.
func (a Asset) CanonicalEncode() ([]byte, error) {
	idBytes, err := a.Id.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	valBytes, err := a.Value.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf := appendLenPrefixed(nil, idBytes)
	buf = appendLenPrefixed(buf, valBytes)
	return buf, nil
}

// Repeats encodes a Trigger action's remaining-execution policy.
type Repeats struct {
	Indefinite bool
	Remaining  uint32 // meaningful only when Indefinite == false
}

func ExactlyRepeats(n uint32) Repeats { return Repeats{Remaining: n} }
func IndefiniteRepeats() Repeats      { return Repeats{Indefinite: true} }
func (r Repeats) Exhausted() bool     { return !r.Indefinite && r.Remaining == 0 }

// Decrement consumes one firing of a non-indefinite Repeats, unregistering
// (Exhausted() becomes true) once Remaining reaches zero.
func (r Repeats) Decrement() Repeats {
	if r.Indefinite || r.Remaining == 0 {
		return r
	}
	r.Remaining--
	return r
}

// CanonicalEncode gives Repeats an explicit byte form.
func (r Repeats) CanonicalEncode() ([]byte, error) {
	indefinite := byte(0)
	if r.Indefinite {
		indefinite = 1
	}
	buf := []byte{indefinite}
	buf = appendUint32(buf, r.Remaining)
	return buf, nil
}

// EventKind discriminates the filters a Trigger's Action can subscribe to.
type EventKind int

const (
	EventData EventKind = iota
	EventPipeline
	EventTime
	EventExecuteTrigger
)

// EventFilter narrows which events of EventKind a Trigger reacts to.
type EventFilter struct {
	Kind   EventKind
	Entity string // opaque entity-id string match; "" matches any
}

// CanonicalEncode gives EventFilter an explicit byte form.
func (f EventFilter) CanonicalEncode() ([]byte, error) {
	buf := appendUint32(nil, uint32(f.Kind))
	buf = appendLenPrefixed(buf, []byte(f.Entity))
	return buf, nil
}

// TriggerAction is what executes when a Trigger fires.
type TriggerAction struct {
	Executable []Instruction
	Repeats    Repeats
	Authority  AccountId
	Filter     EventFilter
}

// CanonicalEncode gives TriggerAction an explicit byte form.
func (t TriggerAction) CanonicalEncode() ([]byte, error) {
	var buf []byte
	buf = appendUint64(buf, uint64(len(t.Executable)))
	for _, instr := range t.Executable {
		instrBytes, err := instr.CanonicalEncode()
		if err != nil {
			return nil, err
		}
		buf = appendLenPrefixed(buf, instrBytes)
	}
	repeatsBytes, err := t.Repeats.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf = appendLenPrefixed(buf, repeatsBytes)
	authBytes, err := t.Authority.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf = appendLenPrefixed(buf, authBytes)
	filterBytes, err := t.Filter.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf = appendLenPrefixed(buf, filterBytes)
	return buf, nil
}

// Trigger is a standing subscription: when Filter matches an emitted event,
// Action.Executable runs under Action.Authority.
type Trigger struct {
	Id     TriggerId
	Action TriggerAction
}

// CanonicalEncode gives Trigger an explicit byte form.
func (t Trigger) CanonicalEncode() ([]byte, error) {
	actionBytes, err := t.Action.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf := appendLenPrefixed(nil, []byte(t.Id))
	buf = appendLenPrefixed(buf, actionBytes)
	return buf, nil
}

// Role bundles a reusable permission set an account can be granted.
type Role struct {
	Id          RoleId
	Owner       AccountId
	Permissions map[Permission]struct{}
}

// CanonicalEncode gives Role an explicit byte form with Permissions sorted
// by (Name, Payload).
func (r Role) CanonicalEncode() ([]byte, error) {
	ownerBytes, err := r.Owner.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf := appendLenPrefixed(nil, []byte(r.Id))
	buf = appendLenPrefixed(buf, ownerBytes)

	perms := make([]Permission, 0, len(r.Permissions))
	for p := range r.Permissions {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Name != perms[j].Name {
			return perms[i].Name < perms[j].Name
		}
		return perms[i].Payload < perms[j].Payload
	})
	buf = appendUint64(buf, uint64(len(perms)))
	for _, p := range perms {
		pBytes, err := p.CanonicalEncode()
		if err != nil {
			return nil, err
		}
		buf = appendLenPrefixed(buf, pBytes)
	}
	return buf, nil
}

// Permission is opaque to the core: its Name/Payload pair is interpreted
// solely by the WASM executor.
type Permission struct {
	Name    string
	Payload string // JSON, comparable as a map key
}

// CanonicalEncode gives Permission an explicit byte form.
func (p Permission) CanonicalEncode() ([]byte, error) {
	buf := appendLenPrefixed(nil, []byte(p.Name))
	buf = appendLenPrefixed(buf, []byte(p.Payload))
	return buf, nil
}

// Peer is a member of the trusted peer set.
type Peer struct {
	Id      PeerId
	Address string
}

// CanonicalEncode gives Peer an explicit byte form.
func (p Peer) CanonicalEncode() ([]byte, error) {
	idBytes, err := p.Id.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf := appendLenPrefixed(nil, idBytes)
	buf = appendLenPrefixed(buf, []byte(p.Address))
	return buf, nil
}

// Parameters is the typed record of on-chain consensus/runtime knobs.
type Parameters struct {
	BlockTime              time.Duration
	CommitTimeout          time.Duration
	MaxTransactionsInBlock uint32
	MaxInstructionsPerTx   uint32
	ExecutorFuelLimit      uint64
	ExecutorMaxMemoryBytes uint64
	QueuePeriod            time.Duration
	GossipPeriod           time.Duration
	IdentifierLengthLimit  uint32
	MetadataLimits         MetadataLimits
}

// CanonicalEncode gives Parameters an explicit byte form: it is carried on
// a SetParameter instruction, reachable from HashOf[TransactionPayload].
func (p Parameters) CanonicalEncode() ([]byte, error) {
	limitsBytes, err := p.MetadataLimits.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	var buf []byte
	buf = appendUint64(buf, uint64(p.BlockTime))
	buf = appendUint64(buf, uint64(p.CommitTimeout))
	buf = appendUint32(buf, p.MaxTransactionsInBlock)
	buf = appendUint32(buf, p.MaxInstructionsPerTx)
	buf = appendUint64(buf, p.ExecutorFuelLimit)
	buf = appendUint64(buf, p.ExecutorMaxMemoryBytes)
	buf = appendUint64(buf, uint64(p.QueuePeriod))
	buf = appendUint64(buf, uint64(p.GossipPeriod))
	buf = appendUint32(buf, p.IdentifierLengthLimit)
	buf = appendLenPrefixed(buf, limitsBytes)
	return buf, nil
}

// CanonicalEncode gives MetadataLimits an explicit byte form.
func (l MetadataLimits) CanonicalEncode() ([]byte, error) {
	buf := appendUint32(nil, l.MaxEntries)
	buf = appendUint32(buf, l.MaxEntrySize)
	return buf, nil
}
