package txpipeline

import (
	"fmt"

	"iroha-peer/internal/datamodel"
)

// InstructionErrorKind enumerates the ways executing an instruction can
// fail: Find, Repetition, Mintability, Math, Metadata, InvariantViolation,
// TypeError, Evaluate.
type InstructionErrorKind int

const (
	ErrKindFind InstructionErrorKind = iota
	ErrKindRepetition
	ErrKindMintability
	ErrKindMath
	ErrKindMetadata
	ErrKindInvariantViolation
	ErrKindTypeError
	ErrKindEvaluate
)

func (k InstructionErrorKind) String() string {
	switch k {
	case ErrKindFind:
		return "Find"
	case ErrKindRepetition:
		return "Repetition"
	case ErrKindMintability:
		return "Mintability"
	case ErrKindMath:
		return "Math"
	case ErrKindMetadata:
		return "Metadata"
	case ErrKindInvariantViolation:
		return "InvariantViolation"
	case ErrKindTypeError:
		return "TypeError"
	case ErrKindEvaluate:
		return "Evaluate"
	default:
		return "Unknown"
	}
}

// InstructionExecutionError carries the failing instruction's error kind
// and detail, so a rejected transaction's TransactionRejectionReason keeps
// the failing context instead of collapsing to a bare string.
type InstructionExecutionError struct {
	Kind   InstructionErrorKind
	Detail string
}

func (e *InstructionExecutionError) Error() string {
	return fmt.Sprintf("txpipeline: %s: %s", e.Kind, e.Detail)
}

func findErr(detail string) error { return &InstructionExecutionError{Kind: ErrKindFind, Detail: detail} }
func repetitionErr(detail string) error {
	return &InstructionExecutionError{Kind: ErrKindRepetition, Detail: detail}
}
func mintabilityErr(detail string) error {
	return &InstructionExecutionError{Kind: ErrKindMintability, Detail: detail}
}
func mathErr(err error) error {
	return &InstructionExecutionError{Kind: ErrKindMath, Detail: err.Error()}
}
func metadataErr(detail string) error {
	return &InstructionExecutionError{Kind: ErrKindMetadata, Detail: detail}
}
func invariantErr(detail string) error {
	return &InstructionExecutionError{Kind: ErrKindInvariantViolation, Detail: detail}
}
func typeErr(detail string) error {
	return &InstructionExecutionError{Kind: ErrKindTypeError, Detail: detail}
}

// executeInstruction dispatches a single instruction's typed subkind
// against the transaction's overlay. A variant switch rather than
// interface-based polymorphism: every arm is known at compile time with
// bespoke errors.
func executeInstruction(o *overlay, authority datamodel.AccountId, instr datamodel.Instruction, params datamodel.Parameters) error {
	switch instr.Kind {
	case datamodel.InstructionRegister:
		return execRegister(o, instr.Register, params)
	case datamodel.InstructionUnregister:
		return execUnregister(o, instr.Unregister)
	case datamodel.InstructionMint:
		return execMint(o, instr.Mint)
	case datamodel.InstructionBurn:
		return execBurn(o, instr.Burn)
	case datamodel.InstructionTransfer:
		return execTransfer(o, instr.Transfer)
	case datamodel.InstructionSetKeyValue:
		return execSetKeyValue(o, instr.SetKeyValue, params)
	case datamodel.InstructionRemoveKeyValue:
		return execRemoveKeyValue(o, instr.RemoveKeyValue)
	case datamodel.InstructionGrant:
		return execGrant(o, instr.Grant)
	case datamodel.InstructionRevoke:
		return execRevoke(o, instr.Revoke)
	case datamodel.InstructionSetParameter:
		o.setParameters(instr.SetParameter.Parameters)
		return nil
	case datamodel.InstructionUpgrade:
		return execUpgrade(o, instr.Upgrade)
	case datamodel.InstructionLog:
		return nil // logging is an ambient side effect, not a state mutation
	case datamodel.InstructionExecuteTrigger:
		// Re-entrant firing of another trigger is handled by the trigger
		// drain loop (Pipeline.DrainTriggers in pipeline.go), not inline instruction execution, so a
		// trigger's own action cannot requeue itself unboundedly within one
		// block.
		return invariantErr("ExecuteTrigger instructions may only be issued by the trigger drain loop")
	default:
		return invariantErr(fmt.Sprintf("unknown instruction kind %d", instr.Kind))
	}
}

func execRegister(o *overlay, p *datamodel.RegisterPayload, params datamodel.Parameters) error {
	if p == nil {
		return invariantErr("Register instruction missing payload")
	}
	switch p.Kind {
	case datamodel.RegisterDomain:
		if p.Domain == nil {
			return invariantErr("Register(Domain) missing domain")
		}
		if _, err := o.domain(p.Domain.Id); err == nil {
			return repetitionErr(fmt.Sprintf("domain %s already registered", p.Domain.Id))
		}
		d := *p.Domain
		if d.Accounts == nil {
			d.Accounts = make(map[datamodel.AccountId]*datamodel.Account)
		}
		if d.AssetDefinitions == nil {
			d.AssetDefinitions = make(map[datamodel.AssetDefinitionId]*datamodel.AssetDefinition)
		}
		o.putDomain(&d)
		return nil
	case datamodel.RegisterAccount:
		if p.Account == nil {
			return invariantErr("Register(Account) missing account")
		}
		if _, err := o.account(p.Account.Id); err == nil {
			return repetitionErr(fmt.Sprintf("account %s already registered", p.Account.Id))
		}
		a := *p.Account
		if a.Assets == nil {
			a.Assets = make(map[datamodel.AssetId]*datamodel.Asset)
		}
		return o.putAccount(&a)
	case datamodel.RegisterAssetDefinition:
		if p.AssetDefinition == nil {
			return invariantErr("Register(AssetDefinition) missing definition")
		}
		if _, err := o.assetDefinition(p.AssetDefinition.Id); err == nil {
			return repetitionErr(fmt.Sprintf("asset definition %s already registered", p.AssetDefinition.Id))
		}
		def := *p.AssetDefinition
		return o.putAssetDefinition(&def)
	case datamodel.RegisterAsset:
		if p.Asset == nil {
			return invariantErr("Register(Asset) missing asset")
		}
		def, err := o.assetDefinition(p.Asset.Id.Definition)
		if err != nil {
			return findErr(fmt.Sprintf("asset definition %s: %v", p.Asset.Id.Definition, err))
		}
		if !p.Asset.Conforms(def) {
			return typeErr(fmt.Sprintf("asset %s does not conform to definition %s", p.Asset.Id, def.Id))
		}
		if _, err := o.asset(p.Asset.Id); err == nil {
			return repetitionErr(fmt.Sprintf("asset %s already registered", p.Asset.Id))
		}
		asset := *p.Asset
		return o.putAsset(&asset)
	case datamodel.RegisterTrigger:
		if p.Trigger == nil {
			return invariantErr("Register(Trigger) missing trigger")
		}
		o.putTrigger(p.Trigger)
		return nil
	case datamodel.RegisterRole:
		if p.Role == nil {
			return invariantErr("Register(Role) missing role")
		}
		o.putRole(p.Role)
		return nil
	case datamodel.RegisterPeer:
		if p.Peer == nil {
			return invariantErr("Register(Peer) missing peer")
		}
		o.peers[p.Peer.Id] = p.Peer
		delete(o.removedPeers, p.Peer.Id)
		return nil
	default:
		return invariantErr(fmt.Sprintf("unknown registrable kind %d", p.Kind))
	}
}

// execUnregister removes the named entity. Removal cascades: unregistering
// a domain or account drops everything nested inside it by simply never
// surfacing it again
// through the overlay (its children are addressed only through their
// owner's map, which stageMutations deletes wholesale).
func execUnregister(o *overlay, p *datamodel.UnregisterPayload) error {
	if p == nil {
		return invariantErr("Unregister instruction missing payload")
	}
	switch p.Kind {
	case datamodel.RegisterDomain:
		name, err := datamodel.NewName(p.Id)
		if err != nil {
			return invariantErr(err.Error())
		}
		if _, err := o.domain(name); err != nil {
			return findErr(err.Error())
		}
		o.removeDomain(name)
		return nil
	case datamodel.RegisterAccount:
		id, err := parseAccountId(p.Id)
		if err != nil {
			return invariantErr(err.Error())
		}
		acc, err := o.account(id)
		if err != nil {
			return findErr(err.Error())
		}
		for assetId := range acc.Assets {
			o.removeAsset(assetId)
		}
		o.removeAccount(id)
		return nil
	case datamodel.RegisterAssetDefinition:
		id, err := parseAssetDefinitionId(p.Id)
		if err != nil {
			return invariantErr(err.Error())
		}
		if _, err := o.assetDefinition(id); err != nil {
			return findErr(err.Error())
		}
		o.removeAssetDefinition(id)
		return nil
	case datamodel.RegisterAsset:
		id, err := parseAssetId(p.Id)
		if err != nil {
			return invariantErr(err.Error())
		}
		if _, err := o.asset(id); err != nil {
			return findErr(err.Error())
		}
		o.removeAsset(id)
		return nil
	case datamodel.RegisterTrigger:
		name, err := datamodel.NewName(p.Id)
		if err != nil {
			return invariantErr(err.Error())
		}
		o.removeTrigger(name)
		return nil
	case datamodel.RegisterRole:
		name, err := datamodel.NewName(p.Id)
		if err != nil {
			return invariantErr(err.Error())
		}
		if _, err := o.role(name); err != nil {
			return findErr(err.Error())
		}
		o.removeRole(name)
		return nil
	case datamodel.RegisterPeer:
		pk, err := parsePublicKey(p.Id)
		if err != nil {
			return invariantErr(err.Error())
		}
		o.removePeer(pk)
		return nil
	default:
		return invariantErr(fmt.Sprintf("unknown registrable kind %d", p.Kind))
	}
}

func execMint(o *overlay, p *datamodel.MintPayload) error {
	if p == nil {
		return invariantErr("Mint instruction missing payload")
	}
	def, err := o.assetDefinition(p.Asset.Definition)
	if err != nil {
		return findErr(fmt.Sprintf("asset definition %s: %v", p.Asset.Definition, err))
	}
	switch def.Mintable {
	case datamodel.MintableNot:
		return mintabilityErr(fmt.Sprintf("asset definition %s is not mintable", def.Id))
	case datamodel.MintableOnce:
		if def.Minted() {
			return mintabilityErr(fmt.Sprintf("asset definition %s already minted once", def.Id))
		}
	}
	asset, err := o.asset(p.Asset)
	if err != nil {
		if err != datamodel.ErrNotFound {
			return findErr(err.Error())
		}
		asset = &datamodel.Asset{Id: p.Asset, Value: zeroValueFor(def)}
	}
	if asset.Value.Kind != p.Amount.Kind || asset.Value.Kind != def.ValueKind {
		return typeErr(fmt.Sprintf("asset %s value kind mismatch on mint", p.Asset))
	}
	switch asset.Value.Kind {
	case datamodel.AssetValueNumeric:
		sum, err := asset.Value.Numeric.CheckedAdd(p.Amount.Numeric)
		if err != nil {
			return mathErr(err)
		}
		asset.Value.Numeric = sum
	default:
		return typeErr("cannot mint a Store-kind asset")
	}
	if def.Mintable == datamodel.MintableOnce {
		def.MarkMinted()
		if err := o.putAssetDefinition(def); err != nil {
			return findErr(err.Error())
		}
	}
	return o.putAsset(asset)
}

func execBurn(o *overlay, p *datamodel.BurnPayload) error {
	if p == nil {
		return invariantErr("Burn instruction missing payload")
	}
	asset, err := o.asset(p.Asset)
	if err != nil {
		return findErr(fmt.Sprintf("asset %s: %v", p.Asset, err))
	}
	if asset.Value.Kind != p.Amount.Kind || asset.Value.Kind != datamodel.AssetValueNumeric {
		return typeErr(fmt.Sprintf("asset %s value kind mismatch on burn", p.Asset))
	}
	diff, err := asset.Value.Numeric.CheckedSub(p.Amount.Numeric)
	if err != nil {
		return mathErr(err)
	}
	asset.Value.Numeric = diff
	return o.putAsset(asset)
}

// execTransfer moves amount from source to destination's asset of the same
// definition, minting the destination-side asset on first transfer.
func execTransfer(o *overlay, p *datamodel.TransferPayload) error {
	if p == nil {
		return invariantErr("Transfer instruction missing payload")
	}
	src, err := o.asset(p.Source)
	if err != nil {
		return findErr(fmt.Sprintf("source asset %s: %v", p.Source, err))
	}
	if src.Value.Kind != p.Amount.Kind || src.Value.Kind != datamodel.AssetValueNumeric {
		return typeErr(fmt.Sprintf("asset %s value kind mismatch on transfer", p.Source))
	}
	newSrc, err := src.Value.Numeric.CheckedSub(p.Amount.Numeric)
	if err != nil {
		return mathErr(err)
	}

	def, err := o.assetDefinition(p.Source.Definition)
	if err != nil {
		return findErr(fmt.Sprintf("asset definition %s: %v", p.Source.Definition, err))
	}
	destId := datamodel.AssetId{Definition: p.Source.Definition, Account: p.Destination}
	dest, err := o.asset(destId)
	if err != nil {
		if err != datamodel.ErrNotFound {
			return findErr(err.Error())
		}
		dest = &datamodel.Asset{Id: destId, Value: zeroValueFor(def)}
	}
	newDest, err := dest.Value.Numeric.CheckedAdd(p.Amount.Numeric)
	if err != nil {
		return mathErr(err)
	}

	src.Value.Numeric = newSrc
	dest.Value.Numeric = newDest
	if err := o.putAsset(src); err != nil {
		return findErr(err.Error())
	}
	return o.putAsset(dest)
}

func zeroValueFor(def *datamodel.AssetDefinition) datamodel.AssetValue {
	if def.ValueKind == datamodel.AssetValueStore {
		return datamodel.AssetValue{Kind: datamodel.AssetValueStore, Store: datamodel.NewMetadata()}
	}
	scale := uint32(0)
	if def.Spec.Scale != nil {
		scale = *def.Spec.Scale
	}
	return datamodel.AssetValue{Kind: datamodel.AssetValueNumeric, Numeric: datamodel.NewNumeric(0, scale)}
}

func execSetKeyValue(o *overlay, p *datamodel.SetKeyValuePayload, params datamodel.Parameters) error {
	if p == nil {
		return invariantErr("SetKeyValue instruction missing payload")
	}
	md, set, err := resolveMetadataTarget(o, p.Target)
	if err != nil {
		return err
	}
	if err := md.Set(p.Key, p.Value, params.MetadataLimits); err != nil {
		return metadataErr(err.Error())
	}
	return set()
}

func execRemoveKeyValue(o *overlay, p *datamodel.RemoveKeyValuePayload) error {
	if p == nil {
		return invariantErr("RemoveKeyValue instruction missing payload")
	}
	md, set, err := resolveMetadataTarget(o, p.Target)
	if err != nil {
		return err
	}
	md.Remove(p.Key)
	return set()
}

// metadataTarget is deliberately minimal: the concrete entity-id string
// format is owned by the caller assembling instructions; here we
// only need *some* consistent way to route a SetKeyValue/RemoveKeyValue at
// a domain, account or asset's metadata bag.
func resolveMetadataTarget(o *overlay, target string) (*datamodel.Metadata, func() error, error) {
	kind, id, err := parseMetadataTarget(target)
	if err != nil {
		return nil, nil, invariantErr(err.Error())
	}
	switch kind {
	case metadataTargetDomain:
		name, err := datamodel.NewName(id)
		if err != nil {
			return nil, nil, invariantErr(err.Error())
		}
		d, err := o.domain(name)
		if err != nil {
			return nil, nil, findErr(err.Error())
		}
		return &d.Metadata, func() error { o.putDomain(d); return nil }, nil
	case metadataTargetAccount:
		accId, err := parseAccountId(id)
		if err != nil {
			return nil, nil, invariantErr(err.Error())
		}
		a, err := o.account(accId)
		if err != nil {
			return nil, nil, findErr(err.Error())
		}
		return &a.Metadata, func() error { return o.putAccount(a) }, nil
	case metadataTargetAsset:
		assetId, err := parseAssetId(id)
		if err != nil {
			return nil, nil, invariantErr(err.Error())
		}
		a, err := o.asset(assetId)
		if err != nil {
			return nil, nil, findErr(err.Error())
		}
		if a.Value.Kind != datamodel.AssetValueStore {
			return nil, nil, typeErr("asset " + assetId.String() + " is not a Store-kind asset")
		}
		return &a.Value.Store, func() error { return o.putAsset(a) }, nil
	default:
		return nil, nil, invariantErr("unsupported metadata target: " + target)
	}
}

func execGrant(o *overlay, p *datamodel.GrantPayload) error {
	if p == nil {
		return invariantErr("Grant instruction missing payload")
	}
	acc, err := o.account(p.Receiver)
	if err != nil {
		return findErr(fmt.Sprintf("account %s: %v", p.Receiver, err))
	}
	acc.Permissions[p.Object] = struct{}{}
	return o.putAccount(acc)
}

func execRevoke(o *overlay, p *datamodel.RevokePayload) error {
	if p == nil {
		return invariantErr("Revoke instruction missing payload")
	}
	acc, err := o.account(p.Receiver)
	if err != nil {
		return findErr(fmt.Sprintf("account %s: %v", p.Receiver, err))
	}
	delete(acc.Permissions, p.Object)
	return o.putAccount(acc)
}

func execUpgrade(o *overlay, p *datamodel.UpgradePayload) error {
	if p == nil {
		return invariantErr("Upgrade instruction missing payload")
	}
	h, err := datamodel.NewHashOf(p.ExecutorWasm)
	if err != nil {
		return invariantErr(err.Error())
	}
	o.setExecutor(datamodel.Executor{Wasm: p.ExecutorWasm, Hash: h.Hash()})
	return nil
}
