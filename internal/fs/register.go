package fs

import (
	"context"

	"github.com/layerdynamics/forge-runtime/internal/capability"
	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

func argErr(message string) *oprt.Error {
	return oprt.New(oprt.ErrFSIoError, message)
}

// pathArg extracts the first positional argument for use as the
// capability-relevant path in a fs.read/fs.write check.
func pathArg(args oprt.Args) oprt.Value {
	v, _ := args.String(0)
	return v
}

// RegisterOps registers every Filesystem Service op against reg, and
// returns the capability-argument extractors the dispatcher needs to
// pick the path out of each op's raw Args before the fs.read/fs.write
// check runs.
func RegisterOps(reg *oprt.Registry, svc *Service) map[string]oprt.CapArgFunc {
	reg.Register("fs.read_text", capability.KindFSRead, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		path, ok := args.String(0)
		if !ok {
			return nil, argErr("read_text: expected path string")
		}
		return svc.ReadText(ctx, path)
	})
	reg.Register("fs.write_text", capability.KindFSWrite, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		path, _ := args.String(0)
		contents, _ := args.String(1)
		return nil, svc.WriteText(ctx, path, contents)
	})
	reg.Register("fs.read_bytes", capability.KindFSRead, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		path, ok := args.String(0)
		if !ok {
			return nil, argErr("read_bytes: expected path string")
		}
		data, err := svc.ReadBytes(ctx, path)
		if err != nil {
			return nil, err
		}
		return oprt.Bytes(data), nil
	})
	reg.Register("fs.write_bytes", capability.KindFSWrite, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		path, _ := args.String(0)
		data, _ := args.Bytes(1)
		return nil, svc.WriteBytes(ctx, path, data)
	})
	reg.Register("fs.append_text", capability.KindFSWrite, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		path, _ := args.String(0)
		contents, _ := args.String(1)
		return nil, svc.AppendText(ctx, path, contents)
	})
	reg.Register("fs.append_bytes", capability.KindFSWrite, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		path, _ := args.String(0)
		data, _ := args.Bytes(1)
		return nil, svc.AppendBytes(ctx, path, data)
	})
	reg.Register("fs.stat", capability.KindFSRead, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		path, ok := args.String(0)
		if !ok {
			return nil, argErr("stat: expected path string")
		}
		st, err := svc.Stat(ctx, path)
		if err != nil {
			return nil, err
		}
		return st, nil
	})
	reg.Register("fs.metadata", capability.KindFSRead, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		path, ok := args.String(0)
		if !ok {
			return nil, argErr("metadata: expected path string")
		}
		md, err := svc.Metadata(ctx, path)
		if err != nil {
			return nil, err
		}
		return md, nil
	})
	reg.Register("fs.read_dir", capability.KindFSRead, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		path, ok := args.String(0)
		if !ok {
			return nil, argErr("read_dir: expected path string")
		}
		entries, err := svc.ReadDir(ctx, path)
		if err != nil {
			return nil, err
		}
		out := make([]oprt.Value, len(entries))
		for i, e := range entries {
			out[i] = e
		}
		return out, nil
	})
	reg.Register("fs.mkdir", capability.KindFSWrite, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		path, _ := args.String(0)
		recursive, _ := args.Struct(1).Bool("recursive")
		return nil, svc.Mkdir(ctx, path, recursive)
	})
	reg.Register("fs.remove", capability.KindFSWrite, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		path, _ := args.String(0)
		recursive, _ := args.Struct(1).Bool("recursive")
		return nil, svc.Remove(ctx, path, recursive)
	})
	reg.Register("fs.rename", capability.KindFSWrite, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		from, _ := args.String(0)
		to, _ := args.String(1)
		return nil, svc.Rename(ctx, from, to)
	})
	reg.Register("fs.copy", capability.KindFSWrite, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		from, _ := args.String(0)
		to, _ := args.String(1)
		return nil, svc.Copy(ctx, from, to)
	})
	reg.Register("fs.exists", capability.KindFSRead, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		path, ok := args.String(0)
		if !ok {
			return nil, argErr("exists: expected path string")
		}
		return svc.Exists(ctx, path)
	})
	reg.Register("fs.symlink", capability.KindFSWrite, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		target, _ := args.String(0)
		linkPath, _ := args.String(1)
		return nil, svc.Symlink(ctx, target, linkPath)
	})
	reg.Register("fs.read_link", capability.KindFSRead, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		path, ok := args.String(0)
		if !ok {
			return nil, argErr("read_link: expected path string")
		}
		return svc.ReadLink(ctx, path)
	})
	reg.Register("fs.real_path", capability.KindFSRead, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		path, ok := args.String(0)
		if !ok {
			return nil, argErr("real_path: expected path string")
		}
		return svc.RealPath(ctx, path)
	})
	// temp_file/temp_dir create inside the OS temp directory, not a
	// guest-chosen path, so they are not gated on fs.write.
	reg.Register("fs.temp_file", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		prefix, _ := args.Struct(0).String("prefix")
		return svc.TempFile(ctx, prefix)
	})
	reg.Register("fs.temp_dir", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		prefix, _ := args.Struct(0).String("prefix")
		return svc.TempDir(ctx, prefix)
	})
	reg.Register("fs.watch", capability.KindFSRead, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		path, ok := args.String(0)
		if !ok {
			return nil, argErr("watch: expected path string")
		}
		rid, err := svc.Watch(ctx, path)
		if err != nil {
			return nil, err
		}
		return rid, nil
	})
	reg.Register("fs.watch_next", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, ok := args.RID(0)
		if !ok {
			return nil, argErr("watch_next: expected rid")
		}
		ev, err := svc.WatchNext(ctx, rid)
		if err != nil {
			return nil, err
		}
		return ev, nil
	})
	reg.Register("fs.watch_close", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, ok := args.RID(0)
		if !ok {
			return nil, argErr("watch_close: expected rid")
		}
		return nil, svc.WatchClose(ctx, rid)
	})

	return map[string]oprt.CapArgFunc{
		"fs.read_text":   pathArg,
		"fs.write_text":  pathArg,
		"fs.read_bytes":  pathArg,
		"fs.write_bytes": pathArg,
		"fs.append_text": pathArg,
		"fs.append_bytes": pathArg,
		"fs.stat":        pathArg,
		"fs.metadata":    pathArg,
		"fs.read_dir":    pathArg,
		"fs.mkdir":       pathArg,
		"fs.remove":      pathArg,
		"fs.rename":      pathArg,
		"fs.copy":        pathArg,
		"fs.exists":      pathArg,
		"fs.symlink":     pathArg,
		"fs.read_link":   pathArg,
		"fs.real_path":   pathArg,
		"fs.watch":       pathArg,
	}
}
