package process

import (
	"context"

	"github.com/layerdynamics/forge-runtime/internal/capability"
	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

func binArg(args oprt.Args) oprt.Value {
	v, _ := args.String(0)
	return v
}

// RegisterOps registers the Process Service ops against reg.
func RegisterOps(reg *oprt.Registry, svc *Service) map[string]oprt.CapArgFunc {
	reg.Register("process.spawn", capability.KindProcessSpawn, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		bin, ok := args.String(0)
		if !ok {
			return nil, invalidHandle("spawn: expected bin string")
		}
		rid, pid, err := svc.Spawn(ctx, bin, args.Struct(1))
		if err != nil {
			return nil, err
		}
		return oprt.Struct{"rid": rid, "pid": pid}, nil
	})
	reg.Register("process.kill", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, ok := args.RID(0)
		if !ok {
			return nil, invalidHandle("kill: expected rid")
		}
		return nil, svc.Kill(ctx, rid)
	})
	reg.Register("process.wait", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, ok := args.RID(0)
		if !ok {
			return nil, invalidHandle("wait: expected rid")
		}
		code, err := svc.Wait(ctx, rid)
		if err != nil {
			return nil, err
		}
		return code, nil
	})
	reg.Register("process.status", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, ok := args.RID(0)
		if !ok {
			return nil, invalidHandle("status: expected rid")
		}
		st, err := svc.Status(ctx, rid)
		if err != nil {
			return nil, err
		}
		return st, nil
	})
	reg.Register("process.write_stdin", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, ok := args.RID(0)
		if !ok {
			return nil, invalidHandle("write_stdin: expected rid")
		}
		data, _ := args.Bytes(1)
		return nil, svc.WriteStdin(ctx, rid, data)
	})
	reg.Register("process.read_stdout", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, ok := args.RID(0)
		if !ok {
			return nil, invalidHandle("read_stdout: expected rid")
		}
		res, err := svc.ReadStdout(ctx, rid)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	reg.Register("process.read_stderr", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, ok := args.RID(0)
		if !ok {
			return nil, invalidHandle("read_stderr: expected rid")
		}
		res, err := svc.ReadStderr(ctx, rid)
		if err != nil {
			return nil, err
		}
		return res, nil
	})

	return map[string]oprt.CapArgFunc{
		"process.spawn": binArg,
	}
}
