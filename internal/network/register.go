package network

import (
	"context"

	"github.com/layerdynamics/forge-runtime/internal/capability"
	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

func urlArg(args oprt.Args) oprt.Value {
	v, _ := args.String(0)
	return v
}

// RegisterOps registers the Network Service ops against reg.
func RegisterOps(reg *oprt.Registry, svc *Service) map[string]oprt.CapArgFunc {
	reg.Register("net.fetch", capability.KindNetFetch, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		url, ok := args.String(0)
		if !ok {
			return nil, netErr("fetch: expected url string")
		}
		res, err := svc.Fetch(ctx, url, args.Struct(1))
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	reg.Register("net.fetch_bytes", capability.KindNetFetch, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		url, ok := args.String(0)
		if !ok {
			return nil, netErr("fetch_bytes: expected url string")
		}
		res, err := svc.FetchBytes(ctx, url, args.Struct(1))
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	reg.Register("net.fetch_json", capability.KindNetFetch, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		url, ok := args.String(0)
		if !ok {
			return nil, netErr("fetch_json: expected url string")
		}
		res, err := svc.FetchJSON(ctx, url, args.Struct(1))
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	reg.Register("net.post_json", capability.KindNetFetch, func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		url, ok := args.String(0)
		if !ok {
			return nil, netErr("post_json: expected url string")
		}
		var payload oprt.Value
		if args.Len() > 1 {
			payload = args[1]
		}
		res, err := svc.PostJSON(ctx, url, payload, args.Struct(2))
		if err != nil {
			return nil, err
		}
		return res, nil
	})

	return map[string]oprt.CapArgFunc{
		"net.fetch":       urlArg,
		"net.fetch_bytes": urlArg,
		"net.fetch_json":  urlArg,
		"net.post_json":   urlArg,
	}
}
