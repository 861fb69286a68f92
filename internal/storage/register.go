package storage

import (
	"context"

	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

// RegisterOps registers the Storage Service ops against reg. Storage is
// scoped per application identifier at construction time, not per call,
// so none of its ops are capability-gated.
func RegisterOps(reg *oprt.Registry, svc *Service) map[string]oprt.CapArgFunc {
	reg.Register("storage.get", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		key, ok := args.String(0)
		if !ok {
			return nil, storageErr("get: expected key string")
		}
		return svc.Get(ctx, key)
	})
	reg.Register("storage.set", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		key, ok := args.String(0)
		if !ok {
			return nil, storageErr("set: expected key string")
		}
		value, _ := args.Bytes(1)
		return nil, svc.Set(ctx, key, value)
	})
	reg.Register("storage.remove", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		key, ok := args.String(0)
		if !ok {
			return nil, storageErr("remove: expected key string")
		}
		return nil, svc.Remove(ctx, key)
	})

	return nil
}
