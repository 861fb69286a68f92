package debugger

import (
	"context"
	"testing"
	"time"

	"github.com/layerdynamics/forge-runtime/internal/oprt"
	"github.com/layerdynamics/forge-runtime/internal/resource"
)

func newTestDebuggerService(t *testing.T, m *mockInspector) *Service {
	t.Helper()
	session := NewSession(Config{URL: m.wsURL(), ConnectTimeout: 2 * time.Second, RequestTimeout: 2 * time.Second}, testLogger())
	return NewService(session, resource.NewTable())
}

func TestServiceConnectDisconnectLifecycle(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	svc := newTestDebuggerService(t, m)

	if got := svc.IsConnected(context.Background()); got["connected"] != false {
		t.Errorf("IsConnected before Connect = %v, want false", got["connected"])
	}

	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if got := svc.IsConnected(context.Background()); got["connected"] != true {
		t.Errorf("IsConnected after Connect = %v, want true", got["connected"])
	}

	if err := svc.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if got := svc.IsConnected(context.Background()); got["connected"] != false {
		t.Errorf("IsConnected after Disconnect = %v, want false", got["connected"])
	}
}

func TestServicePauseReceiverRoundTrip(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	svc := newTestDebuggerService(t, m)
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer svc.Disconnect(context.Background())

	rid := svc.CreatePauseReceiver(context.Background())

	m.emit("Debugger.paused", PausedEvent{Reason: "other"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := svc.ReceivePauseEvent(ctx, rid)
	if err != nil {
		t.Fatalf("ReceivePauseEvent: %v", err)
	}
	if ev.Reason != "other" {
		t.Errorf("ev.Reason = %q, want other", ev.Reason)
	}

	if err := svc.DropReceiver(context.Background(), rid); err != nil {
		t.Fatalf("DropReceiver: %v", err)
	}
	if _, err := svc.ReceivePauseEvent(context.Background(), rid); err == nil {
		t.Fatal("ReceivePauseEvent after drop: want error, got nil")
	}
}

func TestServiceScriptReceiverRoundTrip(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	svc := newTestDebuggerService(t, m)
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer svc.Disconnect(context.Background())

	rid := svc.CreateScriptReceiver(context.Background())

	m.emit("Debugger.scriptParsed", scriptParsedParams{ScriptID: "7", URL: "a.js"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := svc.ReceiveScriptEvent(ctx, rid)
	if err != nil {
		t.Fatalf("ReceiveScriptEvent: %v", err)
	}
	if ev.ScriptID != "7" {
		t.Errorf("ev.ScriptID = %q, want 7", ev.ScriptID)
	}
}

func TestServiceReceivePauseEventUnknownRidFails(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	svc := newTestDebuggerService(t, m)
	if _, err := svc.ReceivePauseEvent(context.Background(), oprt.RID(999)); err == nil {
		t.Fatal("ReceivePauseEvent on unknown rid: want error, got nil")
	}
}

func TestServiceDropReceiverUnknownRidFails(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	svc := newTestDebuggerService(t, m)
	if err := svc.DropReceiver(context.Background(), oprt.RID(999)); err == nil {
		t.Fatal("DropReceiver on unknown rid: want error, got nil")
	}
}
