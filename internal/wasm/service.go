// Package wasm implements the WASM Service: compiling and instantiating
// guest-supplied WebAssembly modules, calling their exports, and reading/
// writing instance linear memory, all via github.com/tetratelabs/wazero
// — a pure-Go runtime needing no cgo, grounded on teranos-QNTX's
// ats/wasm.Engine (CompileModule once, InstantiateModule, call exported
// functions by name through a shared api.Module, single-mutex-serialized
// access).
//
// A "fuel" execution budget was the original design's ask; wazero's OSS
// build has no fuel metering, so this package substitutes a wall-clock
// budget per call via context.WithTimeout, surfaced as FuelExhausted
// when a call's context is cancelled for exceeding it.
package wasm

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/layerdynamics/forge-runtime/internal/oprt"
	"github.com/layerdynamics/forge-runtime/internal/resource"
)

// Module is the Module resource: a compiled-but-not-instantiated WASM
// binary. instances counts live Instance resources derived from it;
// DropModule refuses to run while it is non-zero.
type Module struct {
	runtime   wazero.Runtime
	compiled  wazero.CompiledModule
	owned     bool // true if this Module owns runtime and must close it
	instances atomic.Int32
}

// Close implements resource.Resource.
func (m *Module) Close() error {
	ctx := context.Background()
	err := m.compiled.Close(ctx)
	if m.owned {
		if rerr := m.runtime.Close(ctx); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

// Instance is the Instance resource: an instantiated module, ready for
// exported-function calls.
type Instance struct {
	mod    api.Module
	module *Module
}

// Close implements resource.Resource.
func (i *Instance) Close() error {
	err := i.mod.Close(context.Background())
	i.module.instances.Add(-1)
	return err
}

func wasmErr(sentinel *oprt.Error, message string) *oprt.Error {
	return oprt.New(sentinel, message)
}

// Service implements the WASM ops against the shared Resource Table.
type Service struct {
	table      *resource.Table
	callBudget time.Duration
}

// NewService builds a WASM service. callBudget bounds every exported-
// function call (the fuel substitute described above); zero disables
// the bound.
func NewService(table *resource.Table, callBudget time.Duration) *Service {
	return &Service{table: table, callBudget: callBudget}
}

// Compile implements wasm.compile(bytes) → rid. Each compiled module
// gets its own wazero.Runtime so that closing one module's resources
// never affects another's.
func (s *Service) Compile(ctx context.Context, wasmBytes []byte) (oprt.RID, *oprt.Error) {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		r.Close(ctx)
		return 0, wasmErr(oprt.ErrWASMInstantiateError, "instantiate WASI: "+err.Error())
	}

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		r.Close(ctx)
		return 0, wasmErr(oprt.ErrWASMCompileError, err.Error())
	}

	m := &Module{runtime: r, compiled: compiled, owned: true}
	id := s.table.Insert(m)
	return oprt.RID(id), nil
}

// CompileFile implements wasm.compile_file(path) → rid, reading the
// module bytes from disk before compiling.
func (s *Service) CompileFile(ctx context.Context, path string) (oprt.RID, *oprt.Error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, wasmErr(oprt.ErrWASMIoError, err.Error())
	}
	return s.Compile(ctx, data)
}

// DropModule implements wasm.drop_module(rid). Fails while any Instance
// derived from the module is still live.
func (s *Service) DropModule(_ context.Context, rid oprt.RID) *oprt.Error {
	m, err := resource.Get[*Module](s.table, resource.ID(rid))
	if err != nil {
		return wasmErr(oprt.ErrWASMInvalidModuleHandle, err.Error())
	}
	if m.instances.Load() > 0 {
		return wasmErr(oprt.ErrWASMInvalidModuleHandle, "module has live instances")
	}
	if err := s.table.Drop(resource.ID(rid)); err != nil {
		return wasmErr(oprt.ErrWASMInvalidModuleHandle, err.Error())
	}
	return nil
}

// Instantiate implements wasm.instantiate(moduleRid, {wasi?}) → rid.
func (s *Service) Instantiate(ctx context.Context, moduleRid oprt.RID, opts oprt.Struct) (oprt.RID, *oprt.Error) {
	m, err := resource.Get[*Module](s.table, resource.ID(moduleRid))
	if err != nil {
		return 0, wasmErr(oprt.ErrWASMInvalidModuleHandle, err.Error())
	}

	cfg := wazero.NewModuleConfig()
	if inherit, _ := opts.Bool("inherit_stdout"); inherit {
		cfg = cfg.WithStdout(os.Stdout)
	}

	mod, instErr := m.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if instErr != nil {
		return 0, wasmErr(oprt.ErrWASMInstantiateError, instErr.Error())
	}

	m.instances.Add(1)
	inst := &Instance{mod: mod, module: m}
	id := s.table.Insert(inst)
	return oprt.RID(id), nil
}

type stdoutWriter struct{}

func (stdoutWriter) Write(p []byte) (int, error) { return len(p), nil }

// DropInstance implements wasm.drop_instance(rid).
func (s *Service) DropInstance(_ context.Context, rid oprt.RID) *oprt.Error {
	if err := s.table.Drop(resource.ID(rid)); err != nil {
		return wasmErr(oprt.ErrWASMInvalidInstanceHandle, err.Error())
	}
	return nil
}

// GetExports implements wasm.get_exports(rid) → [names].
func (s *Service) GetExports(_ context.Context, rid oprt.RID) ([]string, *oprt.Error) {
	inst, err := resource.Get[*Instance](s.table, resource.ID(rid))
	if err != nil {
		return nil, wasmErr(oprt.ErrWASMInvalidInstanceHandle, err.Error())
	}
	names := make([]string, 0)
	for _, def := range inst.mod.ExportedFunctionDefinitions() {
		names = append(names, def.Name())
	}
	return names, nil
}

// typedValue is a {type: "i32"|"i64"|"f32"|"f64", value: number} argument
// or result.
type typedValue struct {
	Type  string
	Value uint64
}

func decodeValue(v oprt.Value) (typedValue, bool) {
	s, ok := v.(oprt.Struct)
	if !ok {
		return typedValue{}, false
	}
	typ, ok := s.String("type")
	if !ok {
		return typedValue{}, false
	}
	n, ok := s.Int("value")
	if !ok {
		return typedValue{}, false
	}
	switch typ {
	case "i32", "i64":
		return typedValue{Type: typ, Value: uint64(n)}, true
	case "f32":
		return typedValue{Type: typ, Value: api.EncodeF32(float32(n))}, true
	case "f64":
		return typedValue{Type: typ, Value: api.EncodeF64(float64(n))}, true
	default:
		return typedValue{}, false
	}
}

func encodeResult(typ string, raw uint64) oprt.Struct {
	switch typ {
	case "f32":
		return oprt.Struct{"type": typ, "value": api.DecodeF32(raw)}
	case "f64":
		return oprt.Struct{"type": typ, "value": api.DecodeF64(raw)}
	default:
		return oprt.Struct{"type": typ, "value": int64(raw)}
	}
}

// Call implements wasm.call(instanceRid, name, args) → [results], each
// argument/result tagged with its wasm value type.
func (s *Service) Call(ctx context.Context, rid oprt.RID, name string, args []oprt.Value) ([]oprt.Struct, *oprt.Error) {
	inst, err := resource.Get[*Instance](s.table, resource.ID(rid))
	if err != nil {
		return nil, wasmErr(oprt.ErrWASMInvalidInstanceHandle, err.Error())
	}
	fn := inst.mod.ExportedFunction(name)
	if fn == nil {
		return nil, wasmErr(oprt.ErrWASMExportNotFound, fmt.Sprintf("no exported function %q", name))
	}

	raw := make([]uint64, 0, len(args))
	for _, a := range args {
		tv, ok := decodeValue(a)
		if !ok {
			return nil, wasmErr(oprt.ErrWASMTypeError, "malformed argument value")
		}
		raw = append(raw, tv.Value)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if s.callBudget > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.callBudget)
		defer cancel()
	}

	results, callErr := fn.Call(callCtx, raw...)
	if callErr != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, wasmErr(oprt.ErrWASMFuelExhausted, "call exceeded its execution budget")
		}
		return nil, wasmErr(oprt.ErrWASMCallError, callErr.Error())
	}

	resultTypes := fn.Definition().ResultTypes()
	out := make([]oprt.Struct, len(results))
	for i, r := range results {
		out[i] = encodeResult(valueKindName(resultTypes, i), r)
	}
	return out, nil
}

func valueKindName(kinds []api.ValueType, i int) string {
	if i >= len(kinds) {
		return "i64"
	}
	switch kinds[i] {
	case api.ValueTypeI32:
		return "i32"
	case api.ValueTypeI64:
		return "i64"
	case api.ValueTypeF32:
		return "f32"
	case api.ValueTypeF64:
		return "f64"
	default:
		return "i64"
	}
}

// MemoryRead implements wasm.memory_read(instanceRid, offset, length) → bytes.
func (s *Service) MemoryRead(_ context.Context, rid oprt.RID, offset, length uint32) ([]byte, *oprt.Error) {
	inst, err := resource.Get[*Instance](s.table, resource.ID(rid))
	if err != nil {
		return nil, wasmErr(oprt.ErrWASMInvalidInstanceHandle, err.Error())
	}
	data, ok := inst.mod.Memory().Read(offset, length)
	if !ok {
		return nil, wasmErr(oprt.ErrWASMMemoryError, fmt.Sprintf("read out of range: offset=%d length=%d", offset, length))
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// MemoryWrite implements wasm.memory_write(instanceRid, offset, bytes).
func (s *Service) MemoryWrite(_ context.Context, rid oprt.RID, offset uint32, data []byte) *oprt.Error {
	inst, err := resource.Get[*Instance](s.table, resource.ID(rid))
	if err != nil {
		return wasmErr(oprt.ErrWASMInvalidInstanceHandle, err.Error())
	}
	if !inst.mod.Memory().Write(offset, data) {
		return wasmErr(oprt.ErrWASMMemoryError, fmt.Sprintf("write out of range: offset=%d length=%d", offset, len(data)))
	}
	return nil
}

// MemorySize implements wasm.memory_size(instanceRid) → pages.
func (s *Service) MemorySize(_ context.Context, rid oprt.RID) (uint32, *oprt.Error) {
	inst, err := resource.Get[*Instance](s.table, resource.ID(rid))
	if err != nil {
		return 0, wasmErr(oprt.ErrWASMInvalidInstanceHandle, err.Error())
	}
	return inst.mod.Memory().Size() / wazeroPageSize, nil
}

// MemoryGrow implements wasm.memory_grow(instanceRid, deltaPages) →
// previousPages.
func (s *Service) MemoryGrow(_ context.Context, rid oprt.RID, deltaPages uint32) (uint32, *oprt.Error) {
	inst, err := resource.Get[*Instance](s.table, resource.ID(rid))
	if err != nil {
		return 0, wasmErr(oprt.ErrWASMInvalidInstanceHandle, err.Error())
	}
	prev, ok := inst.mod.Memory().Grow(deltaPages)
	if !ok {
		return 0, wasmErr(oprt.ErrWASMMemoryError, "memory grow failed")
	}
	return prev, nil
}

const wazeroPageSize = 65536
