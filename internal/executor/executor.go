// Package executor runs the WASM policy module inside a wasmer sandbox:
// validate_transaction/validate_query/validate_instruction/migrate
// entrypoints, host-exposed imports as the only channel back into chain
// state, and fuel/memory resource bounds.
package executor

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/wasmerio/wasmer-go/wasmer"

	"iroha-peer/internal/datamodel"
	"iroha-peer/internal/wsv"
)

// InstructionApplier is the seam by which execute_instruction re-enters the
// chain: the executor itself never mutates state, it calls back into
// whatever transaction-scoped apply function the caller (txpipeline)
// supplies. Applied instructions are validated recursively, so the policy
// module cannot escape its own policy.
type InstructionApplier func(datamodel.Instruction) error

// ValidationVerdict is the result every validate_* entrypoint produces.
type ValidationVerdict struct {
	Allowed bool
	Reason  string
}

var (
	ErrMissingMemoryExport = errors.New("executor: module does not export linear memory")
	ErrMissingEntrypoint   = errors.New("executor: module does not export required entrypoint")
	ErrOutOfMemory         = errors.New("executor: module exceeded max_memory_bytes")
)

// CallContext carries the per-call inputs host imports need to answer
// query_authority/query_triggering_event/query_operation_to_validate, plus
// the seam back into chain state for execute_instruction/execute_query.
type CallContext struct {
	View               *wsv.View
	Authority          datamodel.AccountId
	TriggeringEvent    *datamodel.EventFilter // nil outside trigger dispatch
	OperationToValidate any
	Apply              InstructionApplier // nil during query/pure validation
	FuelLimit          uint64
	MaxMemoryBytes     uint64
}

// Executor owns the wasmer engine shared across calls. One Executor per
// peer process.
// Every blocking wasmer call runs through pool so the calling goroutine
// never instantiates/executes a module inline.
type Executor struct {
	engine *wasmer.Engine
	logger *logrus.Logger
	pool   *Pool
}

// defaultPoolWorkers is used by New, which has no config surface to thread
// a worker count through; NewWithPool lets callers with a config file
// (peer.Supervisor) pick their own.
const defaultPoolWorkers = 4

// New constructs an Executor with a fresh wasmer engine and an unthrottled
// worker pool.
func New(logger *logrus.Logger) *Executor {
	return NewWithPool(logger, PoolConfig{Workers: defaultPoolWorkers})
}

// NewWithPool constructs an Executor whose blocking WASM calls are run
// through a pool configured by poolCfg, including its fuel-adjacent
// CallsPerSecond throttle.
func NewWithPool(logger *logrus.Logger, poolCfg PoolConfig) *Executor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Executor{engine: wasmer.NewEngine(), logger: logger, pool: NewPool(poolCfg)}
}

// Close stops the executor's worker pool. Safe to call once at process
// shutdown.
func (e *Executor) Close() { e.pool.Close() }

func encodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("executor: encode call input: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeValue(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("executor: decode call input: %w", err)
	}
	return nil
}

// instantiate compiles wasmBytes and wires host imports, returning the ready
// instance plus its hostCtx (so callers can read back rec/schema state).
func (e *Executor) instantiate(wasmBytes []byte, cctx CallContext) (*wasmer.Instance, *hostCtx, error) {
	store := wasmer.NewStore(e.engine)
	mod, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("executor: compile module: %w", err)
	}

	hctx := &hostCtx{
		cctx:  cctx,
		fuel:  NewFuelMeter(cctx.FuelLimit),
		store: store,
	}
	imports := registerHost(store, hctx)

	instance, err := wasmer.NewInstance(mod, imports)
	if err != nil {
		return nil, nil, fmt.Errorf("executor: instantiate module: %w", err)
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return nil, nil, ErrMissingMemoryExport
	}
	hctx.mem = mem
	if hctx.memoryExceeded() {
		return nil, nil, ErrOutOfMemory
	}
	return instance, hctx, nil
}

// writeInput allocates len(data) bytes in the guest's linear memory (via its
// exported "alloc" function) and copies data in, returning the guest
// pointer.
func writeInput(instance *wasmer.Instance, mem *wasmer.Memory, data []byte) (int32, error) {
	alloc, err := instance.Exports.GetFunction("alloc")
	if err != nil {
		return 0, fmt.Errorf("executor: module does not export alloc: %w", err)
	}
	raw, err := alloc(int32(len(data)))
	if err != nil {
		return 0, fmt.Errorf("executor: alloc call: %w", err)
	}
	ptr, ok := raw.(int32)
	if !ok {
		return 0, errors.New("executor: alloc returned non-i32")
	}
	if int(ptr)+len(data) > len(mem.Data()) {
		return 0, ErrOutOfMemory
	}
	copy(mem.Data()[ptr:], data)
	return ptr, nil
}

func callEntrypoint(instance *wasmer.Instance, mem *wasmer.Memory, name string, input []byte) (int32, error) {
	fn, err := instance.Exports.GetFunction(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingEntrypoint, name)
	}
	ptr, err := writeInput(instance, mem, input)
	if err != nil {
		return 0, err
	}
	result, err := fn(ptr, int32(len(input)))
	if err != nil {
		return 0, fmt.Errorf("executor: %s trapped: %w", name, err)
	}
	code, ok := result.(int32)
	if !ok {
		return 0, fmt.Errorf("executor: %s did not return i32", name)
	}
	return code, nil
}

func verdictFromCode(code int32, hctx *hostCtx) ValidationVerdict {
	if code == 0 {
		return ValidationVerdict{Allowed: true}
	}
	reason := hctx.lastDenyReason
	if reason == "" {
		reason = fmt.Sprintf("denied with code %d", code)
	}
	return ValidationVerdict{Allowed: false, Reason: reason}
}

// ValidateTransaction runs validate_transaction(tx) against view, under
// authority tx.Authority, allowing re-entrant execute_instruction calls to
// apply via the supplied InstructionApplier.
func (e *Executor) ValidateTransaction(moduleWasm []byte, view *wsv.View, tx datamodel.SignedTransaction, apply InstructionApplier, fuelLimit, maxMemory uint64) (ValidationVerdict, error) {
	cctx := CallContext{View: view, Authority: tx.Authority, OperationToValidate: tx, Apply: apply, FuelLimit: fuelLimit, MaxMemoryBytes: maxMemory}
	return e.runValidate(moduleWasm, cctx, "validate_transaction", tx)
}

// ValidateQuery runs validate_query(q) under authority.
func (e *Executor) ValidateQuery(moduleWasm []byte, view *wsv.View, authority datamodel.AccountId, q datamodel.Query, fuelLimit, maxMemory uint64) (ValidationVerdict, error) {
	cctx := CallContext{View: view, Authority: authority, OperationToValidate: q, FuelLimit: fuelLimit, MaxMemoryBytes: maxMemory}
	return e.runValidate(moduleWasm, cctx, "validate_query", q)
}

// ValidateInstruction runs validate_instruction(instr) under authority,
// allowing the instruction itself to be applied on success via apply.
func (e *Executor) ValidateInstruction(moduleWasm []byte, view *wsv.View, authority datamodel.AccountId, instr datamodel.Instruction, apply InstructionApplier, fuelLimit, maxMemory uint64) (ValidationVerdict, error) {
	cctx := CallContext{View: view, Authority: authority, OperationToValidate: instr, Apply: apply, FuelLimit: fuelLimit, MaxMemoryBytes: maxMemory}
	return e.runValidate(moduleWasm, cctx, "validate_instruction", instr)
}

func (e *Executor) runValidate(moduleWasm []byte, cctx CallContext, entrypoint string, input any) (ValidationVerdict, error) {
	var verdict ValidationVerdict
	var runErr error
	poolErr := e.pool.Run(context.Background(), func() {
		instance, hctx, err := e.instantiate(moduleWasm, cctx)
		if err != nil {
			runErr = err
			return
		}
		encoded, err := encodeValue(input)
		if err != nil {
			runErr = err
			return
		}
		code, err := callEntrypoint(instance, hctx.mem, entrypoint, encoded)
		if err != nil {
			e.logger.WithField("entrypoint", entrypoint).WithError(err).Debug("executor: entrypoint call failed")
			runErr = err
			return
		}
		if hctx.memoryExceeded() {
			runErr = ErrOutOfMemory
			return
		}
		for _, line := range hctx.logs {
			e.logger.WithField("entrypoint", entrypoint).Debug("executor: guest log: " + line)
		}
		verdict = verdictFromCode(code, hctx)
	})
	if poolErr != nil {
		return ValidationVerdict{}, poolErr
	}
	if runErr != nil {
		return ValidationVerdict{}, runErr
	}
	return verdict, nil
}

// Migrate calls the new module's migrate() entrypoint, the only window in
// which set_permission_token_schema is accepted, and returns the
// schema the module published during that call.
func (e *Executor) Migrate(newModuleWasm []byte, view *wsv.View, authority datamodel.AccountId, fuelLimit, maxMemory uint64) (datamodel.PermissionSchema, error) {
	cctx := CallContext{View: view, Authority: authority, FuelLimit: fuelLimit, MaxMemoryBytes: maxMemory}
	var schema datamodel.PermissionSchema
	var runErr error
	poolErr := e.pool.Run(context.Background(), func() {
		instance, hctx, err := e.instantiate(newModuleWasm, cctx)
		if err != nil {
			runErr = err
			return
		}
		hctx.inMigrate = true

		fn, err := instance.Exports.GetFunction("migrate")
		if err != nil {
			runErr = fmt.Errorf("%w: migrate", ErrMissingEntrypoint)
			return
		}
		result, err := fn()
		if err != nil {
			runErr = fmt.Errorf("executor: migrate trapped: %w", err)
			return
		}
		if code, ok := result.(int32); ok && code != 0 {
			runErr = fmt.Errorf("executor: migrate failed with code %d: %s", code, hctx.lastDenyReason)
			return
		}
		if hctx.memoryExceeded() {
			runErr = ErrOutOfMemory
			return
		}
		schema = hctx.publishedSchema
	})
	if poolErr != nil {
		return datamodel.PermissionSchema{}, poolErr
	}
	if runErr != nil {
		return datamodel.PermissionSchema{}, runErr
	}
	return schema, nil
}
