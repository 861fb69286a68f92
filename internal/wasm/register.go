package wasm

import (
	"context"

	"github.com/layerdynamics/forge-runtime/internal/capability"
	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

// decodeArgValues extracts the i-th positional argument as a []oprt.Value,
// the shape wasm.call's args list arrives in (each element a {type,
// value} struct decoded by wasm.decodeValue).
func decodeArgValues(args oprt.Args, i int) []oprt.Value {
	if i < 0 || i >= args.Len() {
		return nil
	}
	v, ok := args[i].([]oprt.Value)
	if !ok {
		return nil
	}
	return v
}

// RegisterOps registers the WASM Service ops against reg.
func RegisterOps(reg *oprt.Registry, svc *Service) map[string]oprt.CapArgFunc {
	reg.Register("wasm.compile", capability.KindWASMLoad, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		data, ok := args.Bytes(0)
		if !ok {
			return nil, wasmErr(oprt.ErrWASMTypeError, "compile: expected byte buffer")
		}
		rid, err := svc.Compile(ctx, data)
		if err != nil {
			return nil, err
		}
		return rid, nil
	})
	reg.Register("wasm.compile_file", capability.KindWASMLoad, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		path, ok := args.String(0)
		if !ok {
			return nil, wasmErr(oprt.ErrWASMTypeError, "compile_file: expected path string")
		}
		rid, err := svc.CompileFile(ctx, path)
		if err != nil {
			return nil, err
		}
		return rid, nil
	})
	reg.Register("wasm.drop_module", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, ok := args.RID(0)
		if !ok {
			return nil, wasmErr(oprt.ErrWASMInvalidModuleHandle, "drop_module: expected rid")
		}
		return nil, svc.DropModule(ctx, rid)
	})
	reg.Register("wasm.instantiate", capability.KindWASMExecute, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, ok := args.RID(0)
		if !ok {
			return nil, wasmErr(oprt.ErrWASMInvalidModuleHandle, "instantiate: expected module rid")
		}
		instRid, err := svc.Instantiate(ctx, rid, args.Struct(1))
		if err != nil {
			return nil, err
		}
		return instRid, nil
	})
	reg.Register("wasm.call", capability.KindWASMExecute, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, ok := args.RID(0)
		if !ok {
			return nil, wasmErr(oprt.ErrWASMInvalidInstanceHandle, "call: expected instance rid")
		}
		name, ok := args.String(1)
		if !ok {
			return nil, wasmErr(oprt.ErrWASMExportNotFound, "call: expected export name")
		}
		results, err := svc.Call(ctx, rid, name, decodeArgValues(args, 2))
		if err != nil {
			return nil, err
		}
		out := make([]oprt.Value, len(results))
		for i, r := range results {
			out[i] = r
		}
		return out, nil
	})
	reg.Register("wasm.get_exports", capability.KindWASMExecute, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, ok := args.RID(0)
		if !ok {
			return nil, wasmErr(oprt.ErrWASMInvalidInstanceHandle, "get_exports: expected instance rid")
		}
		names, err := svc.GetExports(ctx, rid)
		if err != nil {
			return nil, err
		}
		out := make([]oprt.Value, len(names))
		for i, n := range names {
			out[i] = n
		}
		return out, nil
	})
	reg.Register("wasm.memory_read", capability.KindWASMExecute, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, _ := args.RID(0)
		offset, _ := args.Int(1)
		length, _ := args.Int(2)
		data, err := svc.MemoryRead(ctx, rid, uint32(offset), uint32(length))
		if err != nil {
			return nil, err
		}
		return oprt.Bytes(data), nil
	})
	reg.Register("wasm.memory_write", capability.KindWASMExecute, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, _ := args.RID(0)
		offset, _ := args.Int(1)
		data, _ := args.Bytes(2)
		return nil, svc.MemoryWrite(ctx, rid, uint32(offset), data)
	})
	reg.Register("wasm.memory_size", capability.KindWASMExecute, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, _ := args.RID(0)
		pages, err := svc.MemorySize(ctx, rid)
		if err != nil {
			return nil, err
		}
		return pages, nil
	})
	reg.Register("wasm.memory_grow", capability.KindWASMExecute, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, _ := args.RID(0)
		delta, _ := args.Int(1)
		prev, err := svc.MemoryGrow(ctx, rid, uint32(delta))
		if err != nil {
			return nil, err
		}
		return prev, nil
	})
	reg.Register("wasm.drop_instance", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, ok := args.RID(0)
		if !ok {
			return nil, wasmErr(oprt.ErrWASMInvalidInstanceHandle, "drop_instance: expected rid")
		}
		return nil, svc.DropInstance(ctx, rid)
	})

	return nil
}
