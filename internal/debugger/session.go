// Package debugger implements the Debugger Client (DBG): a V8 Inspector
// Protocol (CDP) client connected over a WebSocket to a V8 inspector
// endpoint — the densest single subsystem in the runtime.
//
// It is a long-lived, single-connection client with request/response
// correlation, event fan-out to multiple listeners, and mutex-guarded
// shared state, built on github.com/gorilla/websocket as an outbound
// client dial.
package debugger

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/layerdynamics/forge-runtime/internal/eventbus"
	"github.com/layerdynamics/forge-runtime/internal/oprt"
	"github.com/layerdynamics/forge-runtime/internal/retry"
)

// State is one of the connection states in the client's connection
// state machine.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateHandshake    State = "handshake"
	StateEnabled      State = "enabled"
	StatePaused       State = "paused"
)

// ExceptionPausePolicy is one of the three exception-pause states,
// persisted across reconnects.
type ExceptionPausePolicy string

const (
	PauseNone     ExceptionPausePolicy = "none"
	PauseUncaught ExceptionPausePolicy = "uncaught"
	PauseAll      ExceptionPausePolicy = "all"
)

// Config configures a Session's connection behavior.
type Config struct {
	// URL is the inspector WebSocket endpoint. Defaults to
	// "ws://127.0.0.1:9229".
	URL string
	// ConnectTimeout bounds the dial+handshake. Default 5s.
	ConnectTimeout time.Duration
	// RequestTimeout bounds a single CDP request. Default 30s.
	RequestTimeout time.Duration
	// ReceiverQueueDepth bounds each pause/script receiver's queue.
	// Default 64.
	ReceiverQueueDepth int
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = "ws://127.0.0.1:9229"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.ReceiverQueueDepth <= 0 {
		c.ReceiverQueueDepth = 64
	}
	return c
}

type pendingRequest struct {
	resultCh chan json.RawMessage
	errCh    chan *protocolError
}

// Session is the process-wide debugger session: at most one
// live process-wide (the caller is responsible for that invariant; see
// service.go's singleton wiring). It owns the WebSocket transport, the
// request-id counter, the pending-response map, the breakpoint and
// script bookkeeping, and the pause/script event buses.
type Session struct {
	cfg    Config
	logger *slog.Logger

	stateMu sync.RWMutex
	state   State
	paused  bool

	connMu sync.Mutex
	conn   *websocket.Conn

	writeMu sync.Mutex

	nextReqID uint64

	pendingMu sync.Mutex
	pending   map[uint64]*pendingRequest

	bpMu           sync.Mutex
	breakpoints    map[uint64]*Breakpoint // local id -> record
	cdpToLocal     map[string]uint64      // cdp id -> local id
	nextLocalBPID  uint64

	scriptsMu sync.Mutex
	scripts   map[string]*ScriptRecord

	framesMu   sync.Mutex
	lastFrames []CallFrame

	pauseBus   *eventbus.Bus[PausedEvent]
	scriptBus  *eventbus.Bus[ScriptEvent]

	exceptionPolicy ExceptionPausePolicy

	readDone chan struct{}
}

// NewSession creates a Session in the disconnected state. Call Connect
// to establish the WebSocket and run the Debugger.enable/Runtime.enable
// handshake.
func NewSession(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:             cfg.withDefaults(),
		logger:          logger,
		state:           StateDisconnected,
		pending:         make(map[uint64]*pendingRequest),
		breakpoints:     make(map[uint64]*Breakpoint),
		cdpToLocal:      make(map[string]uint64),
		scripts:         make(map[string]*ScriptRecord),
		pauseBus:        eventbus.NewBus[PausedEvent](),
		scriptBus:       eventbus.NewBus[ScriptEvent](),
		exceptionPolicy: PauseNone,
	}
}

// State returns the current connection state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// IsConnected implements debugger.is_connected.
func (s *Session) IsConnected() bool {
	st := s.State()
	return st == StateEnabled || st == StatePaused
}

// IsPaused reports whether the last processed Debugger.paused/resumed
// event left the session paused.
func (s *Session) IsPaused() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.paused
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

func (s *Session) setPaused(p bool) {
	s.stateMu.Lock()
	s.paused = p
	if p {
		s.state = StatePaused
	} else if s.state == StatePaused {
		s.state = StateEnabled
	}
	s.stateMu.Unlock()
}

// Connect dials the inspector WebSocket and runs the
// Debugger.enable/Runtime.enable handshake. The WebSocket dial is
// retried with internal/retry so a transient dial blip during
// connecting does not immediately surface as ConnectionFailed; the
// handshake requests themselves are sent once.
func (s *Session) Connect(ctx context.Context) *oprt.Error {
	if s.IsConnected() {
		return nil
	}
	s.setState(StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	var conn *websocket.Conn
	err := retry.Do(dialCtx, retry.Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		MaxElapsed:   s.cfg.ConnectTimeout,
		MaxAttempts:  3,
	}, "debugger.connect", func(ctx context.Context) error {
		c, _, derr := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, nil)
		if derr != nil {
			return derr
		}
		conn = c
		return nil
	})
	if err != nil {
		s.setState(StateDisconnected)
		return oprt.Newf(oprt.ErrDebuggerConnectionFailed, "dial %s: %v", s.cfg.URL, err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.readDone = make(chan struct{})
	go s.readLoop()

	s.setState(StateHandshake)

	hsCtx, hsCancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer hsCancel()
	if _, perr := s.request(hsCtx, "Debugger.enable", nil); perr != nil {
		s.teardown(oprt.ErrDebuggerConnectionFailed)
		return oprt.Newf(oprt.ErrDebuggerConnectionFailed, "Debugger.enable: %v", perr)
	}
	if _, perr := s.request(hsCtx, "Runtime.enable", nil); perr != nil {
		s.teardown(oprt.ErrDebuggerConnectionFailed)
		return oprt.Newf(oprt.ErrDebuggerConnectionFailed, "Runtime.enable: %v", perr)
	}
	if s.exceptionPolicy != PauseNone {
		_, _ = s.request(hsCtx, "Debugger.setPauseOnExceptions", map[string]string{"state": string(s.exceptionPolicy)})
	}

	s.setState(StateEnabled)
	return nil
}

// Disconnect closes the WebSocket and fails every pending request with
// ConnectionFailed. A disconnect from an already-disconnected session is
// a no-op.
func (s *Session) Disconnect() *oprt.Error {
	if s.State() == StateDisconnected {
		return nil
	}
	s.teardown(oprt.ErrDebuggerConnectionFailed)
	return nil
}

// teardown closes the transport, fails every pending request with the
// given sentinel, and transitions to disconnected. Called both for an
// explicit Disconnect and for a transport-level read failure.
func (s *Session) teardown(sentinel *oprt.Error) {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	if s.readDone != nil {
		<-s.readDone
	}

	s.pendingMu.Lock()
	for id, p := range s.pending {
		select {
		case p.errCh <- &protocolError{Message: sentinel.Kind}:
		default:
		}
		delete(s.pending, id)
	}
	s.pendingMu.Unlock()

	s.pauseBus.CloseAll()
	s.scriptBus.CloseAll()

	s.stateMu.Lock()
	s.state = StateDisconnected
	s.paused = false
	s.stateMu.Unlock()
}

// request sends a CDP method call and blocks for its response or ctx
// cancellation/timeout. It is safe for concurrent use by many callers;
// only the single readLoop goroutine ever touches the WebSocket for
// reads, and writes are serialized with writeMu so concurrent requests
// never interleave frames on the wire.
func (s *Session) request(ctx context.Context, method string, params any) (json.RawMessage, *protocolError) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return nil, &protocolError{Message: "not connected"}
	}

	id := atomic.AddUint64(&s.nextReqID, 1)
	pr := &pendingRequest{resultCh: make(chan json.RawMessage, 1), errCh: make(chan *protocolError, 1)}

	s.pendingMu.Lock()
	s.pending[id] = pr
	s.pendingMu.Unlock()

	cleanup := func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}

	s.writeMu.Lock()
	werr := conn.WriteJSON(outboundFrame{ID: id, Method: method, Params: params})
	s.writeMu.Unlock()
	if werr != nil {
		cleanup()
		return nil, &protocolError{Message: werr.Error()}
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	select {
	case res := <-pr.resultCh:
		return res, nil
	case perr := <-pr.errCh:
		return nil, perr
	case <-reqCtx.Done():
		cleanup()
		// A cancelled/timed-out request's slot is removed from pending;
		// if the response later arrives it is discarded.
		return nil, &protocolError{Message: "timeout"}
	}
}

// readLoop is the client's single driver task: it is the only goroutine
// that ever reads the WebSocket. It routes every inbound frame to either a
// pending request's completion slot or an event family's fanout.
func (s *Session) readLoop() {
	defer close(s.readDone)
	for {
		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			return
		}

		var frame inboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			s.logger.Debug("debugger transport read failed", "error", err)
			go s.teardown(oprt.ErrDebuggerConnectionFailed)
			return
		}

		if frame.isResponse() {
			s.pendingMu.Lock()
			pr, ok := s.pending[frame.ID]
			if ok {
				delete(s.pending, frame.ID)
			}
			s.pendingMu.Unlock()
			if !ok {
				continue
			}
			if frame.Error != nil {
				pr.errCh <- frame.Error
			} else {
				pr.resultCh <- frame.Result
			}
			continue
		}

		s.handleEvent(frame.Method, frame.Params)
	}
}

func (s *Session) handleEvent(method string, params json.RawMessage) {
	switch method {
	case "Debugger.paused":
		var payload PausedEvent
		if err := json.Unmarshal(params, &payload); err != nil {
			s.logger.Warn("malformed Debugger.paused event", "error", err)
			return
		}
		s.framesMu.Lock()
		s.lastFrames = payload.CallFrames
		s.framesMu.Unlock()
		s.setPaused(true)
		s.bumpHitCounts(payload.HitBreakpoints)
		s.pauseBus.Publish(payload)

	case "Debugger.resumed":
		s.framesMu.Lock()
		s.lastFrames = nil
		s.framesMu.Unlock()
		s.setPaused(false)

	case "Debugger.scriptParsed":
		var p scriptParsedParams
		if err := json.Unmarshal(params, &p); err != nil {
			s.logger.Warn("malformed Debugger.scriptParsed event", "error", err)
			return
		}
		rec := &ScriptRecord{
			ScriptID:  p.ScriptID,
			URL:       p.URL,
			Hash:      p.Hash,
			StartLine: p.StartLine,
			EndLine:   p.EndLine,
			ContextID: p.ExecutionContextID,
		}
		s.scriptsMu.Lock()
		s.scripts[rec.ScriptID] = rec
		s.scriptsMu.Unlock()
		s.scriptBus.Publish(ScriptEvent{
			ScriptID:  rec.ScriptID,
			URL:       rec.URL,
			Hash:      rec.Hash,
			StartLine: rec.StartLine,
			EndLine:   rec.EndLine,
			ContextID: rec.ContextID,
		})

	case "Debugger.breakpointResolved":
		var p breakpointResolvedParams
		if err := json.Unmarshal(params, &p); err != nil {
			s.logger.Warn("malformed Debugger.breakpointResolved event", "error", err)
			return
		}
		s.bpMu.Lock()
		if localID, ok := s.cdpToLocal[p.BreakpointID]; ok {
			if bp, ok := s.breakpoints[localID]; ok {
				bp.ResolvedLocation = p.Location
			}
		}
		s.bpMu.Unlock()

	default:
		// Unknown/unmodeled event families are ignored: the transport
		// contract is to tolerate unknown fields.
	}
}

func (s *Session) bumpHitCounts(cdpIDs []string) {
	if len(cdpIDs) == 0 {
		return
	}
	s.bpMu.Lock()
	defer s.bpMu.Unlock()
	for _, cdpID := range cdpIDs {
		if localID, ok := s.cdpToLocal[cdpID]; ok {
			if bp, ok := s.breakpoints[localID]; ok {
				bp.HitCount++
			}
		}
	}
}

// requireConnected is the shared guard every gated DBG op applies.
func (s *Session) requireConnected() *oprt.Error {
	if !s.IsConnected() {
		return oprt.New(oprt.ErrDebuggerNotConnected, "debugger session is not connected")
	}
	return nil
}

// do wraps request, translating a transport-level protocolError into the
// appropriate oprt.Error sentinel.
func (s *Session) do(ctx context.Context, method string, params any) (json.RawMessage, *oprt.Error) {
	res, perr := s.request(ctx, method, params)
	if perr == nil {
		return res, nil
	}
	if perr.Message == "timeout" {
		return nil, oprt.Newf(oprt.ErrDebuggerTimeout, "%s: request timed out", method)
	}
	if !s.IsConnected() || perr.Message == oprt.ErrDebuggerConnectionFailed.Kind {
		return nil, oprt.Newf(oprt.ErrDebuggerConnectionFailed, "%s: %s", method, perr.Message)
	}
	return nil, oprt.Newf(oprt.ErrDebuggerProtocolError, "%s: %s", method, perr.Message)
}
