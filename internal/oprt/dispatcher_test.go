package oprt

import (
	"context"
	"testing"
)

type fakeChecker struct {
	allow map[string]bool
}

func (f *fakeChecker) Check(capability string, arg Value) *Error {
	if f.allow[capability] {
		return nil
	}
	return New(ErrFSPermissionDenied, "denied: "+capability)
}

func TestDispatcherUngatedOp(t *testing.T) {
	reg := NewRegistry()
	reg.Register("crypto.random_uuid", "", func(ctx context.Context, args Args) (Value, *Error) {
		return "fixed-uuid", nil
	})
	d := NewDispatcher(reg, &fakeChecker{}, nil, nil)

	v, err := d.Call(context.Background(), "crypto.random_uuid", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "fixed-uuid" {
		t.Fatalf("got %v", v)
	}
}

func TestDispatcherGatedOpDenied(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fs.read_text", "fs.read", func(ctx context.Context, args Args) (Value, *Error) {
		t.Fatal("implementation must not run when capability check fails")
		return nil, nil
	})
	d := NewDispatcher(reg, &fakeChecker{allow: map[string]bool{}}, nil, nil)

	_, err := d.Call(context.Background(), "fs.read_text", Args{"./secret.txt"})
	if err == nil {
		t.Fatal("expected PermissionDenied")
	}
	if err.Code != ErrFSPermissionDenied.Code {
		t.Fatalf("got code %d", err.Code)
	}
	if err.Op != "fs.read_text" {
		t.Fatalf("expected op annotation, got %q", err.Op)
	}
}

func TestDispatcherGatedOpAllowed(t *testing.T) {
	reg := NewRegistry()
	called := false
	reg.Register("fs.read_text", "fs.read", func(ctx context.Context, args Args) (Value, *Error) {
		called = true
		return "contents", nil
	})
	capArgs := map[string]CapArgFunc{
		"fs.read_text": func(args Args) Value { return args[0] },
	}
	d := NewDispatcher(reg, &fakeChecker{allow: map[string]bool{"fs.read": true}}, capArgs, nil)

	v, err := d.Call(context.Background(), "fs.read_text", Args{"./data/ok.txt"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected implementation to run")
	}
	if v != "contents" {
		t.Fatalf("got %v", v)
	}
}

func TestDispatcherUnknownOp(t *testing.T) {
	d := NewDispatcher(NewRegistry(), &fakeChecker{}, nil, nil)
	_, err := d.Call(context.Background(), "does.not.exist", nil)
	if err == nil {
		t.Fatal("expected error for unknown op")
	}
}

func TestDispatcherNeverRemapsServiceError(t *testing.T) {
	reg := NewRegistry()
	reg.Register("fs.stat", "fs.read", func(ctx context.Context, args Args) (Value, *Error) {
		return nil, New(ErrFSNotFound, "no such file")
	})
	d := NewDispatcher(reg, &fakeChecker{allow: map[string]bool{"fs.read": true}}, nil, nil)

	_, err := d.Call(context.Background(), "fs.stat", Args{"./missing"})
	if err == nil || err.Code != ErrFSNotFound.Code {
		t.Fatalf("expected NotFound preserved verbatim, got %v", err)
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	reg := NewRegistry()
	reg.Register("dup", "", func(ctx context.Context, args Args) (Value, *Error) { return nil, nil })
	reg.Register("dup", "", func(ctx context.Context, args Args) (Value, *Error) { return nil, nil })
}
