package datamodel

import "fmt"

// InstructionKind discriminates the closed set of instruction variants.
// Dispatch is a switch over this tag rather than interface-based
// polymorphism: every arm is known at compile time and each has bespoke
// error cases.
type InstructionKind int

const (
	InstructionRegister InstructionKind = iota
	InstructionUnregister
	InstructionMint
	InstructionBurn
	InstructionTransfer
	InstructionSetKeyValue
	InstructionRemoveKeyValue
	InstructionGrant
	InstructionRevoke
	InstructionExecuteTrigger
	InstructionSetParameter
	InstructionUpgrade
	InstructionLog
)

// RegistrableKind discriminates what a Register/Unregister instruction
// targets.
type RegistrableKind int

const (
	RegisterDomain RegistrableKind = iota
	RegisterAccount
	RegisterAssetDefinition
	RegisterAsset
	RegisterTrigger
	RegisterRole
	RegisterPeer
)

// Instruction is the closed sum type every mutating operation compiles
// down to. Exactly one of the typed payload fields is meaningful, selected
// by Kind.
type Instruction struct {
	Kind RegisterInstructionKindAlias

	Register       *RegisterPayload
	Unregister     *UnregisterPayload
	Mint           *MintPayload
	Burn           *BurnPayload
	Transfer       *TransferPayload
	SetKeyValue    *SetKeyValuePayload
	RemoveKeyValue *RemoveKeyValuePayload
	Grant          *GrantPayload
	Revoke         *RevokePayload
	ExecuteTrigger *ExecuteTriggerPayload
	SetParameter   *SetParameterPayload
	Upgrade        *UpgradePayload
	Log            *LogPayload
}

// CanonicalEncode gives Instruction an explicit byte form: a kind tag
// followed by the encoding of whichever payload field is meaningful for
// that kind. This is the entry point every transaction instruction list
// goes through on the way to HashOf[TransactionPayload], so nothing here
// may fall back to gob.
func (i Instruction) CanonicalEncode() ([]byte, error) {
	buf := appendUint32(nil, uint32(i.Kind))
	var (
		payload []byte
		err     error
	)
	switch i.Kind {
	case InstructionRegister:
		payload, err = encodeOrNil(i.Register)
	case InstructionUnregister:
		payload, err = encodeOrNil(i.Unregister)
	case InstructionMint:
		payload, err = encodeOrNil(i.Mint)
	case InstructionBurn:
		payload, err = encodeOrNil(i.Burn)
	case InstructionTransfer:
		payload, err = encodeOrNil(i.Transfer)
	case InstructionSetKeyValue:
		payload, err = encodeOrNil(i.SetKeyValue)
	case InstructionRemoveKeyValue:
		payload, err = encodeOrNil(i.RemoveKeyValue)
	case InstructionGrant:
		payload, err = encodeOrNil(i.Grant)
	case InstructionRevoke:
		payload, err = encodeOrNil(i.Revoke)
	case InstructionExecuteTrigger:
		payload, err = encodeOrNil(i.ExecuteTrigger)
	case InstructionSetParameter:
		payload, err = encodeOrNil(i.SetParameter)
	case InstructionUpgrade:
		payload, err = encodeOrNil(i.Upgrade)
	case InstructionLog:
		payload, err = encodeOrNil(i.Log)
	default:
		return nil, fmt.Errorf("datamodel: unknown instruction kind %d", i.Kind)
	}
	if err != nil {
		return nil, err
	}
	return appendLenPrefixed(buf, payload), nil
}

// encodeOrNil encodes p's pointee via Encodable, or returns a single marker
// byte if p is nil (an Instruction only ever populates the payload field
// matching its Kind; the rest are nil).
func encodeOrNil[T Encodable](p *T) ([]byte, error) {
	if p == nil {
		return []byte{0}, nil
	}
	enc, err := (*p).CanonicalEncode()
	if err != nil {
		return nil, err
	}
	return append([]byte{1}, enc...), nil
}

// RegisterInstructionKindAlias keeps InstructionKind's name free for the
// exported constant block above while giving Instruction.Kind a concrete
// field type.
type RegisterInstructionKindAlias = InstructionKind

type RegisterPayload struct {
	Kind   RegistrableKind
	Domain *Domain
	Account *Account
	AssetDefinition *AssetDefinition
	Asset  *Asset
	Trigger *Trigger
	Role   *Role
	Peer   *Peer
}

// CanonicalEncode gives RegisterPayload an explicit byte form: a kind tag
// followed by whichever of the typed entity pointers is populated for that
// kind, each entity using its own CanonicalEncode rather than gob (this is
// the exact path a multisig Register(Account) or a Domain/Role carrying
// map-valued fields would otherwise take through the gob fallback).
func (p RegisterPayload) CanonicalEncode() ([]byte, error) {
	buf := appendUint32(nil, uint32(p.Kind))
	var (
		payload []byte
		err     error
	)
	switch p.Kind {
	case RegisterDomain:
		payload, err = encodeOrNil(p.Domain)
	case RegisterAccount:
		payload, err = encodeOrNil(p.Account)
	case RegisterAssetDefinition:
		payload, err = encodeOrNil(p.AssetDefinition)
	case RegisterAsset:
		payload, err = encodeOrNil(p.Asset)
	case RegisterTrigger:
		payload, err = encodeOrNil(p.Trigger)
	case RegisterRole:
		payload, err = encodeOrNil(p.Role)
	case RegisterPeer:
		payload, err = encodeOrNil(p.Peer)
	default:
		return nil, fmt.Errorf("datamodel: unknown registrable kind %d", p.Kind)
	}
	if err != nil {
		return nil, err
	}
	return appendLenPrefixed(buf, payload), nil
}

type UnregisterPayload struct {
	Kind RegistrableKind
	Id   string // string form of the target id; concrete lookup happens in wsv
}

// CanonicalEncode gives UnregisterPayload an explicit byte form.
func (p UnregisterPayload) CanonicalEncode() ([]byte, error) {
	buf := appendUint32(nil, uint32(p.Kind))
	buf = appendLenPrefixed(buf, []byte(p.Id))
	return buf, nil
}

type MintPayload struct {
	Asset  AssetId
	Amount AssetValue
}

// CanonicalEncode gives MintPayload an explicit byte form.
func (p MintPayload) CanonicalEncode() ([]byte, error) {
	assetBytes, err := p.Asset.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	amountBytes, err := p.Amount.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf := appendLenPrefixed(nil, assetBytes)
	buf = appendLenPrefixed(buf, amountBytes)
	return buf, nil
}

type BurnPayload struct {
	Asset  AssetId
	Amount AssetValue
}

// CanonicalEncode gives BurnPayload an explicit byte form.
func (p BurnPayload) CanonicalEncode() ([]byte, error) {
	assetBytes, err := p.Asset.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	amountBytes, err := p.Amount.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf := appendLenPrefixed(nil, assetBytes)
	buf = appendLenPrefixed(buf, amountBytes)
	return buf, nil
}

type TransferPayload struct {
	Source      AssetId
	Destination AccountId
	Amount      AssetValue
}

// CanonicalEncode gives TransferPayload an explicit byte form.
func (p TransferPayload) CanonicalEncode() ([]byte, error) {
	srcBytes, err := p.Source.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	dstBytes, err := p.Destination.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	amountBytes, err := p.Amount.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf := appendLenPrefixed(nil, srcBytes)
	buf = appendLenPrefixed(buf, dstBytes)
	buf = appendLenPrefixed(buf, amountBytes)
	return buf, nil
}

type SetKeyValuePayload struct {
	Target string // owning entity id string form
	Key    string
	Value  []byte
}

// CanonicalEncode gives SetKeyValuePayload an explicit byte form.
func (p SetKeyValuePayload) CanonicalEncode() ([]byte, error) {
	buf := appendLenPrefixed(nil, []byte(p.Target))
	buf = appendLenPrefixed(buf, []byte(p.Key))
	buf = appendLenPrefixed(buf, p.Value)
	return buf, nil
}

type RemoveKeyValuePayload struct {
	Target string
	Key    string
}

// CanonicalEncode gives RemoveKeyValuePayload an explicit byte form.
func (p RemoveKeyValuePayload) CanonicalEncode() ([]byte, error) {
	buf := appendLenPrefixed(nil, []byte(p.Target))
	buf = appendLenPrefixed(buf, []byte(p.Key))
	return buf, nil
}

type GrantPayload struct {
	Receiver AccountId
	Object   Permission
}

// CanonicalEncode gives GrantPayload an explicit byte form.
func (p GrantPayload) CanonicalEncode() ([]byte, error) {
	recvBytes, err := p.Receiver.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	objBytes, err := p.Object.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf := appendLenPrefixed(nil, recvBytes)
	buf = appendLenPrefixed(buf, objBytes)
	return buf, nil
}

type RevokePayload struct {
	Receiver AccountId
	Object   Permission
}

// CanonicalEncode gives RevokePayload an explicit byte form.
func (p RevokePayload) CanonicalEncode() ([]byte, error) {
	recvBytes, err := p.Receiver.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	objBytes, err := p.Object.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf := appendLenPrefixed(nil, recvBytes)
	buf = appendLenPrefixed(buf, objBytes)
	return buf, nil
}

type ExecuteTriggerPayload struct {
	Trigger TriggerId
}

// CanonicalEncode gives ExecuteTriggerPayload an explicit byte form.
func (p ExecuteTriggerPayload) CanonicalEncode() ([]byte, error) {
	return appendLenPrefixed(nil, []byte(p.Trigger)), nil
}

type SetParameterPayload struct {
	Parameters Parameters
}

// CanonicalEncode gives SetParameterPayload an explicit byte form.
func (p SetParameterPayload) CanonicalEncode() ([]byte, error) {
	paramBytes, err := p.Parameters.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	return appendLenPrefixed(nil, paramBytes), nil
}

type UpgradePayload struct {
	ExecutorWasm []byte
}

// CanonicalEncode gives UpgradePayload an explicit byte form.
func (p UpgradePayload) CanonicalEncode() ([]byte, error) {
	return appendLenPrefixed(nil, p.ExecutorWasm), nil
}

type LogPayload struct {
	Level   string
	Message string
}

// CanonicalEncode gives LogPayload an explicit byte form.
func (p LogPayload) CanonicalEncode() ([]byte, error) {
	buf := appendLenPrefixed(nil, []byte(p.Level))
	buf = appendLenPrefixed(buf, []byte(p.Message))
	return buf, nil
}

// QueryKind discriminates read-only queries the executor validates before
// evaluation.
type QueryKind int

const (
	QueryFindAccount QueryKind = iota
	QueryFindAsset
	QueryFindDomain
	QueryFindAllAccounts
)

// Query is the closed sum type for read operations, mirroring Instruction's
// shape.
type Query struct {
	Kind    QueryKind
	Account AccountId
	Asset   AssetId
	Domain  DomainId
}
