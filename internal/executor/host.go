package executor

import (
	"github.com/wasmerio/wasmer-go/wasmer"

	"iroha-peer/internal/datamodel"
)

// hostCtx is the per-call state every host import closes over.
type hostCtx struct {
	mem  *wasmer.Memory
	cctx CallContext
	fuel *FuelMeter
	store *wasmer.Store

	inMigrate       bool
	publishedSchema datamodel.PermissionSchema
	lastDenyReason  string
	logs            []string
}

func (h *hostCtx) read(ptr, ln int32) []byte {
	data := h.mem.Data()
	out := make([]byte, ln)
	copy(out, data[ptr:ptr+ln])
	return out
}

func (h *hostCtx) write(ptr int32, data []byte) {
	copy(h.mem.Data()[ptr:], data)
}

// memoryExceeded reports whether the guest's linear memory has grown past
// the call's max_memory_bytes bound. Checked at instantiation and again
// after each entrypoint returns, since the guest may grow memory mid-call.
func (h *hostCtx) memoryExceeded() bool {
	return h.cctx.MaxMemoryBytes > 0 && uint64(len(h.mem.Data())) > h.cctx.MaxMemoryBytes
}

// registerHost wires Go closures as the guest's only imports:
// execute_instruction/execute_query/query_authority/
// query_triggering_event/query_operation_to_validate/
// set_permission_token_schema/dbg/log/consume_fuel. Memory allocation is
// not an import: the host calls the guest's exported alloc (writeInput).
func registerHost(store *wasmer.Store, h *hostCtx) *wasmer.ImportObject {
	imports := wasmer.NewImportObject()
	i32 := wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32))
	i32i32 := wasmer.NewValueTypes(wasmer.ValueKind(wasmer.I32), wasmer.ValueKind(wasmer.I32))
	none := wasmer.NewValueTypes()

	consumeFuel := wasmer.NewFunction(store, wasmer.NewFunctionType(i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			n := uint64(args[0].I32())
			if err := h.fuel.Consume(n); err != nil {
				h.lastDenyReason = err.Error()
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		})

	// execute_instruction(ptr,len) -> i32. Re-entrant: the host decodes the
	// instruction and hands it to whatever InstructionApplier the caller
	// supplied, so the guest never bypasses normal instruction execution.
	executeInstruction := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, ln := args[0].I32(), args[1].I32()
			var instr datamodel.Instruction
			if err := decodeValue(h.read(ptr, ln), &instr); err != nil {
				h.lastDenyReason = err.Error()
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			if h.cctx.Apply == nil {
				h.lastDenyReason = "execute_instruction: no instruction applier bound to this call"
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			if err := h.cctx.Apply(instr); err != nil {
				h.lastDenyReason = err.Error()
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		})

	// execute_query(ptr,len) -> i32. The guest learns only whether the query
	// succeeded; policy modules use this to gate on readability, not to
	// consume query results directly.
	executeQuery := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, ln := args[0].I32(), args[1].I32()
			var q datamodel.Query
			if err := decodeValue(h.read(ptr, ln), &q); err != nil {
				h.lastDenyReason = err.Error()
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			if h.cctx.View == nil {
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			if _, err := h.cctx.View.EvaluateQuery(q); err != nil {
				h.lastDenyReason = err.Error()
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		})

	queryAuthority := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			dst, cap := args[0].I32(), args[1].I32()
			return h.writeEncoded(dst, cap, h.cctx.Authority)
		})

	queryTriggeringEvent := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			dst, cap := args[0].I32(), args[1].I32()
			if h.cctx.TriggeringEvent == nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			return h.writeEncoded(dst, cap, *h.cctx.TriggeringEvent)
		})

	queryOperationToValidate := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			dst, cap := args[0].I32(), args[1].I32()
			if h.cctx.OperationToValidate == nil {
				return []wasmer.Value{wasmer.NewI32(0)}, nil
			}
			return h.writeEncoded(dst, cap, h.cctx.OperationToValidate)
		})

	// set_permission_token_schema(ptr,len) -> i32. Valid only while migrate
	// is running.
	setPermissionTokenSchema := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, i32),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			if !h.inMigrate {
				h.lastDenyReason = "set_permission_token_schema: only valid during migrate"
				return []wasmer.Value{wasmer.NewI32(-1)}, nil
			}
			ptr, ln := args[0].I32(), args[1].I32()
			h.publishedSchema = datamodel.PermissionSchema{Raw: h.read(ptr, ln)}
			return []wasmer.Value{wasmer.NewI32(0)}, nil
		})

	dbg := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, none),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, ln := args[0].I32(), args[1].I32()
			h.logs = append(h.logs, "dbg: "+string(h.read(ptr, ln)))
			return []wasmer.Value{}, nil
		})

	hostLog := wasmer.NewFunction(store, wasmer.NewFunctionType(i32i32, none),
		func(args []wasmer.Value) ([]wasmer.Value, error) {
			ptr, ln := args[0].I32(), args[1].I32()
			h.logs = append(h.logs, string(h.read(ptr, ln)))
			return []wasmer.Value{}, nil
		})

	imports.Register("env", map[string]wasmer.IntoExtern{
		"consume_fuel":                 consumeFuel,
		"execute_instruction":          executeInstruction,
		"execute_query":                executeQuery,
		"query_authority":              queryAuthority,
		"query_triggering_event":       queryTriggeringEvent,
		"query_operation_to_validate":  queryOperationToValidate,
		"set_permission_token_schema":  setPermissionTokenSchema,
		"dbg":                          dbg,
		"log":                          hostLog,
	})
	return imports
}

// writeEncoded gob-encodes v and writes it into guest memory at dst,
// failing if it does not fit within cap bytes. The guest pre-allocates the
// destination buffer and passes its capacity.
func (h *hostCtx) writeEncoded(dst, cap int32, v any) ([]wasmer.Value, error) {
	b, err := encodeValue(v)
	if err != nil {
		h.lastDenyReason = err.Error()
		return []wasmer.Value{wasmer.NewI32(-1)}, nil
	}
	if int32(len(b)) > cap {
		return []wasmer.Value{wasmer.NewI32(-1)}, nil
	}
	h.write(dst, b)
	return []wasmer.Value{wasmer.NewI32(int32(len(b)))}, nil
}
