package txpipeline

import (
	"errors"
	"fmt"
	"time"

	"iroha-peer/internal/datamodel"
	"iroha-peer/internal/executor"
	"iroha-peer/internal/wsv"
)

var (
	// ErrWrongChain is returned by Accept when a transaction names a
	// different chain than the one this pipeline is running.
	ErrWrongChain = errors.New("txpipeline: transaction chain id does not match this peer's chain")
	// ErrExpired is returned by Accept when CreatedAt+TimeToLive has
	// already elapsed.
	ErrExpired = errors.New("txpipeline: transaction time-to-live has expired")
	// ErrTooManyInstructions is returned by Accept when the instruction
	// count exceeds Parameters.MaxInstructionsPerTx.
	ErrTooManyInstructions = errors.New("txpipeline: instruction count exceeds max_instructions_per_tx")
	// ErrBadSignature is returned by Accept when the payload signature does
	// not verify under the signer key the signature carries (that key is
	// not compared with the authority's key).
	ErrBadSignature = errors.New("txpipeline: signature does not verify")
)

// Accept runs the stateless checks of the accept step,
// before a transaction is ever placed in the queue: chain id, TTL, the
// instruction-count bound, and cryptographic signature validity. Accept
// does not touch the WSV; account/permission checks happen later, during
// validate_transaction.
func Accept(tx datamodel.SignedTransaction, chain datamodel.ChainId, params datamodel.Parameters, now time.Time) (datamodel.AcceptedTransaction, error) {
	if tx.Chain != chain {
		return datamodel.AcceptedTransaction{}, ErrWrongChain
	}
	if tx.TimeToLive > 0 && now.After(tx.CreatedAt.Add(tx.TimeToLive)) {
		return datamodel.AcceptedTransaction{}, ErrExpired
	}
	if uint32(len(tx.Instructions)) > params.MaxInstructionsPerTx {
		return datamodel.AcceptedTransaction{}, ErrTooManyInstructions
	}
	if !tx.Signature.Verify(tx.Payload()) {
		return datamodel.AcceptedTransaction{}, ErrBadSignature
	}
	return datamodel.AcceptedTransaction{SignedTransaction: tx}, nil
}

// Pipeline drives one block's worth of transactions through
// validate+execute and the post-block trigger drain, against a single
// open wsv.BlockTransaction.
type Pipeline struct {
	exec   *executor.Executor
	module []byte
	schema datamodel.PermissionSchema

	// triggerBudget bounds how many rounds DrainTriggers may run. Since
	// DrainTriggers runs a single round, only a budget <= 0 has an effect:
	// the drain then fails before any trigger fires.
	triggerBudget int

	// blockOv accumulates every applied transaction's working set for the
	// one block this Pipeline drives, so transaction N+1 reads N's writes
	// before the block commits.
	blockOv *overlay
}

// NewPipeline builds a Pipeline bound to the currently installed executor
// module. A Pipeline drives exactly one block: its cumulative overlay
// carries intra-block state, so callers construct a fresh one per block.
func NewPipeline(exec *executor.Executor, module []byte, schema datamodel.PermissionSchema, triggerBudget int) *Pipeline {
	return &Pipeline{exec: exec, module: module, schema: schema, triggerBudget: triggerBudget}
}

// Run validates and executes tx against block, returning the
// CommittedTransaction that should be appended to the block body. It never
// returns an error for a transaction-level failure: those are reported as
// CommittedTransaction.Status == StatusRejected. Executor failures (e.g. an
// unreadable module) are also reported as rejections with a WasmExecution
// reason; the returned error is always nil.
func (p *Pipeline) Run(block *wsv.BlockTransaction, tx datamodel.AcceptedTransaction, params datamodel.Parameters) (datamodel.CommittedTransaction, error) {
	signed := tx.SignedTransaction
	scope := block.Begin()
	if p.blockOv == nil {
		p.blockOv = newOverlay(scope.View())
	}
	ov := newChildOverlay(p.blockOv)

	var failedInstruction *datamodel.Instruction
	var failReason string

	apply := func(instr datamodel.Instruction) error {
		if err := executeInstruction(ov, signed.Authority, instr, params); err != nil {
			failedInstruction = &instr
			failReason = err.Error()
			return err
		}
		return nil
	}

	verdict, err := p.exec.ValidateTransaction(p.module, scope.View(), signed, apply, params.ExecutorFuelLimit, params.ExecutorMaxMemoryBytes)
	if err != nil {
		scope.Revert()
		return rejectedWasm(signed, err.Error()), nil
	}
	if !verdict.Allowed {
		scope.Revert()
		if failedInstruction != nil {
			return rejectedInstruction(signed, *failedInstruction, failReason), nil
		}
		return rejectedValidation(signed, verdict.Reason), nil
	}

	if err := p.runMigrate(ov, scope, signed.Authority, params); err != nil {
		scope.Revert()
		return rejectedWasm(signed, err.Error()), nil
	}

	p.blockOv.merge(ov)
	scope.Stage(ov.stageMutations())
	scope.Apply()
	return datamodel.CommittedTransaction{SignedTransaction: signed, Status: datamodel.StatusValid}, nil
}

// runMigrate calls the incoming module's migrate entrypoint when this
// transaction carried an Upgrade, staging whatever permission schema the
// module publishes. Replacement of module and schema is atomic with the
// block: both are staged overlay state until commit.
func (p *Pipeline) runMigrate(ov *overlay, scope *wsv.TransactionTransaction, authority datamodel.AccountId, params datamodel.Parameters) error {
	if ov.executor == nil || p.exec == nil || len(ov.executor.Wasm) == 0 {
		return nil
	}
	schema, err := p.exec.Migrate(ov.executor.Wasm, scope.View(), authority, params.ExecutorFuelLimit, params.ExecutorMaxMemoryBytes)
	if err != nil {
		return err
	}
	ov.setSchema(schema)
	return nil
}

func rejectedWasm(signed datamodel.SignedTransaction, reason string) datamodel.CommittedTransaction {
	return datamodel.CommittedTransaction{
		SignedTransaction: signed,
		Status:            datamodel.StatusRejected,
		Rejection:         &datamodel.TransactionRejectionReason{WasmExecution: &datamodel.WasmExecutionRejection{Reason: reason}},
	}
}

func rejectedInstruction(signed datamodel.SignedTransaction, instr datamodel.Instruction, reason string) datamodel.CommittedTransaction {
	return datamodel.CommittedTransaction{
		SignedTransaction: signed,
		Status:            datamodel.StatusRejected,
		Rejection: &datamodel.TransactionRejectionReason{
			InstructionExecution: &datamodel.InstructionExecutionRejection{Instruction: instr, Reason: reason},
		},
	}
}

func rejectedValidation(signed datamodel.SignedTransaction, reason string) datamodel.CommittedTransaction {
	if reason == "" {
		reason = "NotPermitted"
	}
	return datamodel.CommittedTransaction{
		SignedTransaction: signed,
		Status:            datamodel.StatusRejected,
		Rejection:         &datamodel.TransactionRejectionReason{Validation: &datamodel.ValidationRejection{Reason: reason}},
	}
}

// DrainTriggers fires every trigger matching the events emitted while
// running block's transactions, in TriggerId order, each under its own
// Action.Authority rather than the block proposer's identity. It runs a
// single round: events emitted by the fired triggers are not matched again
// within the same block.
func (p *Pipeline) DrainTriggers(block *wsv.BlockTransaction, events []wsv.Event, params datamodel.Parameters) error {
	budget := p.triggerBudget
	pending := events
	for len(pending) > 0 {
		if budget <= 0 {
			return fmt.Errorf("txpipeline: trigger drain exceeded budget of %d rounds", p.triggerBudget)
		}
		budget--

		scope := block.Begin()
		view := scope.View()

		var ids []datamodel.TriggerId
		for _, ev := range pending {
			for _, id := range view.MatchingTriggers(ev.Kind, ev.Entity) {
				ids = append(ids, id)
			}
		}
		ids = dedupeSortedTriggerIds(ids)
		if len(ids) == 0 {
			scope.Revert()
			return nil
		}

		ov := newOverlay(view)
		var fired int
		for _, id := range ids {
			trig, err := view.Trigger(id)
			if err != nil {
				continue // unregistered between emission and drain
			}
			if trig.Action.Repeats.Exhausted() {
				continue
			}
			for _, instr := range trig.Action.Executable {
				if err := executeInstruction(ov, trig.Action.Authority, instr, params); err != nil {
					scope.Emit(wsv.Event{Kind: datamodel.EventExecuteTrigger, Entity: string(id), Data: err.Error()})
					continue
				}
			}
			fired++
			remaining := trig.Action.Repeats.Decrement()
			updated := *trig
			updated.Action.Repeats = remaining
			if remaining.Exhausted() {
				ov.removeTrigger(id)
			} else {
				ov.putTrigger(&updated)
			}
		}

		scope.Stage(ov.stageMutations())
		scope.Apply()
		if fired == 0 {
			return nil
		}
		pending = nil // triggers do not chain-react within the same block
	}
	return nil
}

// Replay installs an already-certified block's effects without re-running
// WASM validation: a peer that trusts a block's 2f+1 commit certificate
// (an observer applying a BlockCommitted it never voted on, or blocksync
// catching up) only needs the header and signature checks, not a third
// re-execution of validate_transaction. Replay
// executes each valid CommittedTransaction's instructions directly through
// the overlay, exactly reproducing what the voting peers already agreed on.
func (p *Pipeline) Replay(block *wsv.BlockTransaction, committed []datamodel.CommittedTransaction, params datamodel.Parameters) error {
	for _, ct := range committed {
		if ct.Status != datamodel.StatusValid {
			continue
		}
		scope := block.Begin()
		if p.blockOv == nil {
			p.blockOv = newOverlay(scope.View())
		}
		ov := newChildOverlay(p.blockOv)
		for _, instr := range ct.SignedTransaction.Instructions {
			if err := executeInstruction(ov, ct.SignedTransaction.Authority, instr, params); err != nil {
				scope.Revert()
				return fmt.Errorf("txpipeline: replay diverged from certified block: %w", err)
			}
		}
		if err := p.runMigrate(ov, scope, ct.SignedTransaction.Authority, params); err != nil {
			scope.Revert()
			return fmt.Errorf("txpipeline: replay migrate failed: %w", err)
		}
		p.blockOv.merge(ov)
		scope.Stage(ov.stageMutations())
		scope.Apply()
	}
	return nil
}

func dedupeSortedTriggerIds(ids []datamodel.TriggerId) []datamodel.TriggerId {
	if len(ids) == 0 {
		return nil
	}
	// insertion sort, consistent with World.sortTriggerIds's approach for a
	// list this small
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
