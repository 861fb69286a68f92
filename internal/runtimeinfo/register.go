// Package runtimeinfo registers the handful of ops that don't belong to
// any single service: introspection over the op registry and the active
// capability grant set.
package runtimeinfo

import (
	"context"

	"github.com/layerdynamics/forge-runtime/internal/capability"
	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

// RegisterOps registers runtime.capabilities and runtime.ops against reg.
// Both are read-only and ungated: a guest can always find out what it's
// allowed to do, the same way a filesystem lets you stat a file you can't
// read.
func RegisterOps(reg *oprt.Registry, policy *capability.Policy) {
	reg.Register("runtime.capabilities", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		return policy.Snapshot(), nil
	})
	reg.Register("runtime.ops", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		names := reg.Names()
		out := make([]oprt.Value, len(names))
		for i, n := range names {
			out[i] = n
		}
		return out, nil
	})
}
