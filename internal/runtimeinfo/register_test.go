package runtimeinfo

import (
	"context"
	"testing"

	"github.com/layerdynamics/forge-runtime/internal/capability"
	"github.com/layerdynamics/forge-runtime/internal/manifest"
	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

func TestRuntimeCapabilitiesReturnsPolicySnapshot(t *testing.T) {
	m, err := manifest.Parse(`
[capabilities.fs]
read = ["/tmp/**"]
`)
	if err != nil {
		t.Fatalf("manifest.Parse: %v", err)
	}
	policy, err := capability.New(m, false, nil)
	if err != nil {
		t.Fatalf("capability.New: %v", err)
	}

	reg := oprt.NewRegistry()
	RegisterOps(reg, policy)

	entry, ok := reg.Lookup("runtime.capabilities")
	if !ok {
		t.Fatal("runtime.capabilities not registered")
	}
	v, rerr := entry.Fn(context.Background(), nil)
	if rerr != nil {
		t.Fatalf("runtime.capabilities: %v", rerr)
	}
	snap, ok := v.(oprt.Struct)
	if !ok {
		t.Fatalf("runtime.capabilities returned %T, want oprt.Struct", v)
	}
	fs, ok := snap["fs"].(oprt.Struct)
	if !ok {
		t.Fatalf("snap[fs] = %T", snap["fs"])
	}
	read, ok := fs["read"].([]string)
	if !ok || len(read) != 1 {
		t.Errorf("fs.read = %v, want one grant", fs["read"])
	}
}

func TestRuntimeOpsListsEveryRegisteredOp(t *testing.T) {
	m, err := manifest.Parse(``)
	if err != nil {
		t.Fatalf("manifest.Parse: %v", err)
	}
	policy, err := capability.New(m, false, nil)
	if err != nil {
		t.Fatalf("capability.New: %v", err)
	}

	reg := oprt.NewRegistry()
	RegisterOps(reg, policy)

	entry, ok := reg.Lookup("runtime.ops")
	if !ok {
		t.Fatal("runtime.ops not registered")
	}
	v, rerr := entry.Fn(context.Background(), nil)
	if rerr != nil {
		t.Fatalf("runtime.ops: %v", rerr)
	}
	names, ok := v.([]oprt.Value)
	if !ok {
		t.Fatalf("runtime.ops returned %T, want []oprt.Value", v)
	}
	found := map[string]bool{}
	for _, n := range names {
		s, ok := n.(string)
		if !ok {
			t.Fatalf("runtime.ops entry %v is not a string", n)
		}
		found[s] = true
	}
	if !found["runtime.ops"] || !found["runtime.capabilities"] {
		t.Errorf("runtime.ops = %v, want to include itself and runtime.capabilities", names)
	}
}

func TestRuntimeOpsAreUngated(t *testing.T) {
	m, err := manifest.Parse(``)
	if err != nil {
		t.Fatalf("manifest.Parse: %v", err)
	}
	policy, err := capability.New(m, false, nil)
	if err != nil {
		t.Fatalf("capability.New: %v", err)
	}

	reg := oprt.NewRegistry()
	RegisterOps(reg, policy)

	dispatcher := oprt.NewDispatcher(reg, policy, nil, nil)
	if _, rerr := dispatcher.Call(context.Background(), "runtime.capabilities", nil); rerr != nil {
		t.Errorf("runtime.capabilities via dispatcher: %v", rerr)
	}
	if _, rerr := dispatcher.Call(context.Background(), "runtime.ops", nil); rerr != nil {
		t.Errorf("runtime.ops via dispatcher: %v", rerr)
	}
}
