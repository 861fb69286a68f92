package debugger

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

// mockInspector is a minimal V8 Inspector Protocol server: it answers
// Debugger.enable/Runtime.enable during the handshake and otherwise lets
// the test drive per-method responses and out-of-band events.
type mockInspector struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	conn    *websocket.Conn
	replies map[string]func(id uint64, params json.RawMessage) (json.RawMessage, *protocolError)

	writeMu sync.Mutex
}

func newMockInspector(t *testing.T) *mockInspector {
	t.Helper()
	m := &mockInspector{t: t, replies: make(map[string]func(uint64, json.RawMessage) (json.RawMessage, *protocolError))}
	upgrader := websocket.Upgrader{}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.readLoop(conn)
	}))
	return m
}

func (m *mockInspector) wsURL() string {
	return "ws" + strings.TrimPrefix(m.srv.URL, "http")
}

func (m *mockInspector) close() { m.srv.Close() }

// on registers a canned response for method, overriding the handshake
// default for Debugger.enable/Runtime.enable if reused.
func (m *mockInspector) on(method string, fn func(id uint64, params json.RawMessage) (json.RawMessage, *protocolError)) {
	m.mu.Lock()
	m.replies[method] = fn
	m.mu.Unlock()
}

func (m *mockInspector) emit(method string, params any) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}
	raw, _ := json.Marshal(params)
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.WriteJSON(map[string]any{"method": method, "params": json.RawMessage(raw)})
}

func (m *mockInspector) readLoop(conn *websocket.Conn) {
	for {
		var frame outboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		m.mu.Lock()
		fn, ok := m.replies[frame.Method]
		m.mu.Unlock()

		var result json.RawMessage
		var perr *protocolError
		if ok {
			result, perr = fn(frame.ID, nil)
		} else {
			result = json.RawMessage(`{}`)
		}

		resp := map[string]any{"id": frame.ID}
		if perr != nil {
			resp["error"] = perr
		} else {
			resp["result"] = result
		}
		m.writeMu.Lock()
		err := conn.WriteJSON(resp)
		m.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func connectSession(t *testing.T, m *mockInspector) *Session {
	t.Helper()
	s := NewSession(Config{URL: m.wsURL(), ConnectTimeout: 2 * time.Second, RequestTimeout: 2 * time.Second}, testLogger())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return s
}

func TestConnectRunsHandshakeAndReachesEnabled(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	s := connectSession(t, m)
	defer s.Disconnect()

	if s.State() != StateEnabled {
		t.Errorf("State() = %v, want %v", s.State(), StateEnabled)
	}
	if !s.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestConnectIsIdempotentWhenAlreadyConnected(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	s := connectSession(t, m)
	defer s.Disconnect()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}
	if s.State() != StateEnabled {
		t.Errorf("State() = %v, want %v", s.State(), StateEnabled)
	}
}

func TestRequestFailsWhenNotConnected(t *testing.T) {
	s := NewSession(Config{}, testLogger())
	if err := s.Pause(context.Background()); err == nil {
		t.Fatal("Pause on disconnected session: want error, got nil")
	} else if err.Kind != "NotConnected" {
		t.Errorf("err.Kind = %q, want NotConnected", err.Kind)
	}
}

func TestDisconnectFailsPendingRequestsAndIsIdempotent(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	// Pause never answers, so the in-flight request observes the
	// transport teardown rather than a response or timeout.
	blockCh := make(chan struct{})
	m.on("Debugger.pause", func(id uint64, _ json.RawMessage) (json.RawMessage, *protocolError) {
		<-blockCh
		return json.RawMessage(`{}`), nil
	})

	s := connectSession(t, m)

	errCh := make(chan *oprt.Error, 1)
	go func() {
		errCh <- s.Pause(context.Background())
	}()

	// Give the request time to register before tearing down.
	time.Sleep(50 * time.Millisecond)
	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	close(blockCh)

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("Pause during disconnect: want error, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Pause did not return after Disconnect")
	}

	if s.State() != StateDisconnected {
		t.Errorf("State() = %v, want %v", s.State(), StateDisconnected)
	}

	if err := s.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
}

func TestRequestTimesOutOnSlowResponse(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	block := make(chan struct{})
	m.on("Debugger.pause", func(id uint64, _ json.RawMessage) (json.RawMessage, *protocolError) {
		<-block
		return json.RawMessage(`{}`), nil
	})
	defer close(block)

	s := NewSession(Config{URL: m.wsURL(), ConnectTimeout: 2 * time.Second, RequestTimeout: 100 * time.Millisecond}, testLogger())
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	err := s.Pause(context.Background())
	if err == nil {
		t.Fatal("Pause: want timeout error, got nil")
	}
}

func TestDebuggerPausedEventUpdatesStateAndBumpsHitCount(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	var bpID string
	m.on("Debugger.setBreakpointByUrl", func(id uint64, _ json.RawMessage) (json.RawMessage, *protocolError) {
		bpID = "bp-1"
		res, _ := json.Marshal(setBreakpointByURLResult{BreakpointID: bpID, Locations: []Location{{ScriptID: "s1", LineNumber: 10}}})
		return res, nil
	})

	s := connectSession(t, m)
	defer s.Disconnect()

	if _, err := s.SetBreakpoint(context.Background(), "file.js", 10, SetBreakpointOpts{}); err != nil {
		t.Fatalf("SetBreakpoint: %v", err)
	}

	recv := newReceiver(s.pauseBus, 8)
	defer recv.Close()

	m.emit("Debugger.paused", PausedEvent{Reason: "breakpoint", HitBreakpoints: []string{bpID}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, ok, rerr := recv.Next(ctx)
	if rerr != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, rerr)
	}
	if ev.Reason != "breakpoint" {
		t.Errorf("Reason = %q, want breakpoint", ev.Reason)
	}

	if !s.IsPaused() {
		t.Error("IsPaused() = false, want true after Debugger.paused")
	}

	list := s.ListBreakpoints()
	if len(list) != 1 || list[0].HitCount != 1 {
		t.Errorf("breakpoint hit count = %+v, want HitCount=1", list)
	}
}

func TestBreakpointHitCountSurvivesDisableEnableCycle(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	callNum := 0
	m.on("Debugger.setBreakpointByUrl", func(id uint64, _ json.RawMessage) (json.RawMessage, *protocolError) {
		callNum++
		cdpID := "bp-gen-" + string(rune('0'+callNum))
		res, _ := json.Marshal(setBreakpointByURLResult{BreakpointID: cdpID, Locations: []Location{{ScriptID: "s1", LineNumber: 5}}})
		return res, nil
	})

	s := connectSession(t, m)
	defer s.Disconnect()

	bp, err := s.SetBreakpoint(context.Background(), "file.js", 5, SetBreakpointOpts{})
	if err != nil {
		t.Fatalf("SetBreakpoint: %v", err)
	}
	localID := bp.LocalID
	firstCDPID := bp.CDPID

	s.bumpHitCounts([]string{firstCDPID})

	if err := s.DisableBreakpoint(context.Background(), localID); err != nil {
		t.Fatalf("DisableBreakpoint: %v", err)
	}
	list := s.ListBreakpoints()
	if len(list) != 1 || list[0].Enabled {
		t.Fatalf("after disable: %+v", list)
	}
	if list[0].HitCount != 1 {
		t.Errorf("HitCount after disable = %d, want 1 (preserved)", list[0].HitCount)
	}

	if err := s.EnableBreakpoint(context.Background(), localID); err != nil {
		t.Fatalf("EnableBreakpoint: %v", err)
	}
	list = s.ListBreakpoints()
	if len(list) != 1 {
		t.Fatalf("after enable: %+v", list)
	}
	if list[0].LocalID != localID {
		t.Errorf("LocalID changed across enable cycle: got %d, want %d", list[0].LocalID, localID)
	}
	if list[0].CDPID == firstCDPID {
		t.Error("CDPID should change across a disable/enable cycle")
	}
	if list[0].HitCount != 1 {
		t.Errorf("HitCount after re-enable = %d, want 1 (preserved across cycle)", list[0].HitCount)
	}
	if !list[0].Enabled {
		t.Error("breakpoint should be enabled after EnableBreakpoint")
	}
}

func TestRemoveAllBreakpointsIsIdempotentOnEmptySet(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	s := connectSession(t, m)
	defer s.Disconnect()

	n, err := s.RemoveAllBreakpoints(context.Background())
	if err != nil {
		t.Fatalf("RemoveAllBreakpoints on empty set: %v", err)
	}
	if n != 0 {
		t.Errorf("n = %d, want 0", n)
	}
}

func TestRemoveAllBreakpointsRemovesEveryBreakpoint(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	n := 0
	m.on("Debugger.setBreakpointByUrl", func(id uint64, _ json.RawMessage) (json.RawMessage, *protocolError) {
		n++
		res, _ := json.Marshal(setBreakpointByURLResult{BreakpointID: "bp-" + string(rune('a'+n))})
		return res, nil
	})

	s := connectSession(t, m)
	defer s.Disconnect()

	for i := 0; i < 3; i++ {
		if _, err := s.SetBreakpoint(context.Background(), "file.js", i, SetBreakpointOpts{}); err != nil {
			t.Fatalf("SetBreakpoint %d: %v", i, err)
		}
	}

	removed, err := s.RemoveAllBreakpoints(context.Background())
	if err != nil {
		t.Fatalf("RemoveAllBreakpoints: %v", err)
	}
	if removed != 3 {
		t.Errorf("removed = %d, want 3", removed)
	}
	if got := len(s.ListBreakpoints()); got != 0 {
		t.Errorf("ListBreakpoints len = %d, want 0", got)
	}
}

func TestScriptParsedEventIsRecordedAndPublished(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	s := connectSession(t, m)
	defer s.Disconnect()

	recv := newReceiver(s.scriptBus, 8)
	defer recv.Close()

	m.emit("Debugger.scriptParsed", scriptParsedParams{ScriptID: "42", URL: "file.js", StartLine: 0, EndLine: 100})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, ok, rerr := recv.Next(ctx)
	if rerr != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, rerr)
	}
	if ev.ScriptID != "42" || ev.URL != "file.js" {
		t.Errorf("ev = %+v", ev)
	}

	scripts := s.ListScripts()
	if len(scripts) != 1 || scripts[0].ScriptID != "42" {
		t.Errorf("ListScripts = %+v", scripts)
	}
}

func TestResumeRequiresPausedState(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	s := connectSession(t, m)
	defer s.Disconnect()

	if err := s.Resume(context.Background()); err == nil {
		t.Fatal("Resume while running: want error, got nil")
	} else if err.Kind != "ResumeFailed" {
		t.Errorf("err.Kind = %q, want ResumeFailed", err.Kind)
	}
}

func TestStepOverRequiresPausedState(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	s := connectSession(t, m)
	defer s.Disconnect()

	if err := s.StepOver(context.Background()); err == nil {
		t.Fatal("StepOver while running: want error, got nil")
	} else if err.Kind != "StepFailed" {
		t.Errorf("err.Kind = %q, want StepFailed", err.Kind)
	}
}

func TestGetScopeChainUnknownFrameIsInvalidFrameId(t *testing.T) {
	m := newMockInspector(t)
	defer m.close()

	s := connectSession(t, m)
	defer s.Disconnect()

	_, err := s.GetScopeChain("nonexistent-frame")
	if err == nil {
		t.Fatal("GetScopeChain: want error, got nil")
	}
	if err.Kind != "InvalidFrameId" {
		t.Errorf("err.Kind = %q, want InvalidFrameId", err.Kind)
	}
}
