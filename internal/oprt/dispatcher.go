package oprt

import (
	"context"
	"log/slog"
	"time"
)

// CapabilityChecker answers the permit(capability, argument) question.
// Implemented by internal/capability.Policy; kept as an interface here
// so the dispatcher package never imports the policy package directly.
type CapabilityChecker interface {
	Check(capability string, arg Value) *Error
}

// CapArgFunc extracts the capability-relevant argument (a path, URL, or
// similar) from an op's raw Args before the capability check runs. The
// capability check executes before deserializing cost-heavy arguments,
// so this extraction must be cheap — typically just indexing into Args.
type CapArgFunc func(args Args) Value

// Dispatcher is the Op Dispatcher (OD): the single narrow waist every
// guest call passes through. Each invocation moves through
// received -> cap-checked -> dispatched -> (service-work) -> responded,
// with cap-checked able to shortcut straight to responded on
// PermissionDenied.
type Dispatcher struct {
	registry *Registry
	cp       CapabilityChecker
	capArgs  map[string]CapArgFunc
	logger   *slog.Logger
}

// NewDispatcher builds an OD over a closed registry and a capability
// checker. capArgs maps op name -> extractor for the capability-relevant
// argument; an op with a non-empty Capability and no registered extractor
// is checked with a nil argument (suitable for boolean feature-flag
// capabilities like sys.clipboard that don't vary per call).
func NewDispatcher(registry *Registry, cp CapabilityChecker, capArgs map[string]CapArgFunc, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if capArgs == nil {
		capArgs = map[string]CapArgFunc{}
	}
	return &Dispatcher{registry: registry, cp: cp, capArgs: capArgs, logger: logger}
}

// Call resolves name in the registry, runs the capability check (if
// gated), and invokes the implementation. It never remaps a service-level
// error's code — service-level errors propagate unchanged.
func (d *Dispatcher) Call(ctx context.Context, name string, args Args) (Value, *Error) {
	start := time.Now()
	entry, ok := d.registry.Lookup(name)
	if !ok {
		return nil, New(ErrWebViewGeneric, "unknown op: "+name).WithOp(name)
	}

	if entry.Capability != "" {
		var capArg Value
		if extract, ok := d.capArgs[name]; ok {
			capArg = extract(args)
		}
		if err := d.cp.Check(entry.Capability, capArg); err != nil {
			d.logger.Debug("op denied", "op", name, "capability", entry.Capability, "code", err.Code)
			return nil, err.WithOp(name)
		}
	}

	result, err := entry.Fn(ctx, args)
	d.logger.Debug("op dispatched", "op", name, "duration", time.Since(start), "ok", err == nil)
	if err != nil {
		return nil, err.WithOp(name)
	}
	return result, nil
}
