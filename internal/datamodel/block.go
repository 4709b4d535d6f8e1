package datamodel

import "time"

// BlockHeader is the hashed, signed commitment every block makes. Its canonical encoding is the hashing/signing input and is
// part of the chain-breaking wire format.
type BlockHeader struct {
	PrevHash              Hash
	Height                uint64
	Timestamp             time.Time
	TransactionsMerkleRoot Hash
	ViewChangeIndex       uint32
	ConsensusEstimation   time.Duration
}

// CanonicalEncode gives BlockHeader a stable, explicit byte layout instead
// of falling back to gob, since block hashes must never change shape
// silently.
func (h BlockHeader) CanonicalEncode() ([]byte, error) {
	buf := make([]byte, 0, 32+8+8+32+4+8)
	buf = append(buf, h.PrevHash[:]...)
	buf = appendUint64(buf, h.Height)
	buf = appendUint64(buf, uint64(h.Timestamp.UnixNano()))
	buf = append(buf, h.TransactionsMerkleRoot[:]...)
	buf = appendUint32(buf, h.ViewChangeIndex)
	buf = appendUint64(buf, uint64(h.ConsensusEstimation))
	return buf, nil
}

func appendUint64(b []byte, v uint64) []byte {
	for i := 7; i >= 0; i-- {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}

func appendUint32(b []byte, v uint32) []byte {
	for i := 3; i >= 0; i-- {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}

// appendLenPrefixed appends b length-prefixed to buf, the building block
// every CanonicalEncode in this package uses to concatenate sub-encodings
// unambiguously (without it, "ab"+"c" and "a"+"bc" would hash the same).
func appendLenPrefixed(buf []byte, b []byte) []byte {
	buf = appendUint64(buf, uint64(len(b)))
	buf = append(buf, b...)
	return buf
}

// TransactionStatus is the pipeline state a transaction currently
// occupies.
type TransactionStatus int

const (
	StatusAccepted TransactionStatus = iota
	StatusValid
	StatusRejected
)

// TransactionRejectionReason names why a transaction did not commit cleanly,
// without throwing away the instruction context.
type TransactionRejectionReason struct {
	Validation          *ValidationRejection
	InstructionExecution *InstructionExecutionRejection
	WasmExecution        *WasmExecutionRejection
}

type ValidationRejection struct {
	Reason string // e.g. "NotPermitted"
}

type InstructionExecutionRejection struct {
	Instruction Instruction
	Reason      string
}

type WasmExecutionRejection struct {
	Reason string
}

// SignedTransaction is a transaction payload plus its author's signature,
// the wire form a peer receives before acceptance.
type SignedTransaction struct {
	Chain      ChainId
	Authority  AccountId
	Instructions []Instruction
	CreatedAt  time.Time
	TimeToLive time.Duration
	Signature  SignatureOf[TransactionPayload]
}

// TransactionPayload is the part of a SignedTransaction that gets hashed and
// signed; separated from SignedTransaction so HashOf[TransactionPayload]
// doesn't accidentally include the signature itself.
type TransactionPayload struct {
	Chain        ChainId
	Authority    AccountId
	Instructions []Instruction
	CreatedAt    time.Time
	TimeToLive   time.Duration
}

// CanonicalEncode gives TransactionPayload (and therefore every
// HashOf[TransactionPayload]/SignatureOf[TransactionPayload], including the
// queue's dedup key and the per-tx hash sumeragi's merkleRoot folds into a
// block header) an explicit byte layout instead of the package-level gob
// fallback. Instructions nest entities with map fields (Domain, Account,
// Role, ...); letting those reach gob's encodeMap would make the same
// logical transaction hash differently from one run to the next (gob
// iterates Go maps in their randomized range order), breaking header
// determinism across honest peers re-running the same block.
func (t TransactionPayload) CanonicalEncode() ([]byte, error) {
	var buf []byte
	buf = appendLenPrefixed(buf, []byte(t.Chain))
	acctBytes, err := t.Authority.CanonicalEncode()
	if err != nil {
		return nil, err
	}
	buf = appendLenPrefixed(buf, acctBytes)
	buf = appendUint64(buf, uint64(len(t.Instructions)))
	for _, instr := range t.Instructions {
		instrBytes, err := instr.CanonicalEncode()
		if err != nil {
			return nil, err
		}
		buf = appendLenPrefixed(buf, instrBytes)
	}
	buf = appendUint64(buf, uint64(t.CreatedAt.UnixNano()))
	buf = appendUint64(buf, uint64(t.TimeToLive))
	return buf, nil
}

func (t SignedTransaction) Payload() TransactionPayload {
	return TransactionPayload{
		Chain:        t.Chain,
		Authority:    t.Authority,
		Instructions: t.Instructions,
		CreatedAt:    t.CreatedAt,
		TimeToLive:   t.TimeToLive,
	}
}

// Hash returns the content hash used as this transaction's dedup key in the
// queue and its identity inside a committed block.
func (t SignedTransaction) Hash() (HashOf[TransactionPayload], error) {
	return NewHashOf(t.Payload())
}

// AcceptedTransaction is a SignedTransaction that passed the accept step
// (signature/limits/chain-id/TTL/authority checks) but has not yet been
// validated against a WSV.
type AcceptedTransaction struct {
	SignedTransaction SignedTransaction
}

// CommittedTransaction is what actually lands in a block: either the
// instructions ran (Valid) or they didn't (Rejected with a reason).
type CommittedTransaction struct {
	SignedTransaction SignedTransaction
	Status            TransactionStatus
	Rejection         *TransactionRejectionReason
}

// Block is the in-progress, not-yet-signed body a leader assembles.
type Block struct {
	Header       BlockHeader
	Transactions []CommittedTransaction
}

// SignedBlock is a Block plus the 2f+1 commit signature set collected by
// the proxy tail.
type SignedBlock struct {
	Block      Block
	Signatures SignaturesOf[BlockHeader]
}

// Hash returns the canonical hash of this block's header, the value other
// blocks' PrevHash fields reference.
func (b Block) Hash() (HashOf[BlockHeader], error) {
	return NewHashOf(b.Header)
}
