package debugger

import (
	"context"
	"fmt"

	"github.com/layerdynamics/forge-runtime/internal/eventbus"
	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

// Pause implements debugger.pause.
func (s *Session) Pause(ctx context.Context) *oprt.Error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if _, derr := s.do(ctx, "Debugger.pause", nil); derr != nil {
		return oprt.Newf(oprt.ErrDebuggerPauseFailed, "%v", derr.Message)
	}
	return nil
}

// Resume implements debugger.resume.
func (s *Session) Resume(ctx context.Context) *oprt.Error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if !s.IsPaused() {
		return oprt.New(oprt.ErrDebuggerResumeFailed, "session is not paused")
	}
	if _, derr := s.do(ctx, "Debugger.resume", nil); derr != nil {
		return oprt.Newf(oprt.ErrDebuggerResumeFailed, "%v", derr.Message)
	}
	return nil
}

// requirePaused guards the step family: each step op is valid only
// when paused; otherwise it fails with StepFailed.
func (s *Session) requirePaused() *oprt.Error {
	if err := s.requireConnected(); err != nil {
		return err
	}
	if !s.IsPaused() {
		return oprt.New(oprt.ErrDebuggerStepFailed, "session is not paused")
	}
	return nil
}

// step issues method and returns {success:true} once the CDP response
// arrives; the following Debugger.paused event (if execution continues)
// is delivered separately through the pause receiver, never coupled to
// this response.
func (s *Session) step(ctx context.Context, method string) *oprt.Error {
	if err := s.requirePaused(); err != nil {
		return err
	}
	if _, derr := s.do(ctx, method, nil); derr != nil {
		return oprt.Newf(oprt.ErrDebuggerStepFailed, "%s: %v", method, derr.Message)
	}
	return nil
}

// StepOver implements debugger.step_over.
func (s *Session) StepOver(ctx context.Context) *oprt.Error { return s.step(ctx, "Debugger.stepOver") }

// StepInto implements debugger.step_into.
func (s *Session) StepInto(ctx context.Context) *oprt.Error { return s.step(ctx, "Debugger.stepInto") }

// StepOut implements debugger.step_out.
func (s *Session) StepOut(ctx context.Context) *oprt.Error { return s.step(ctx, "Debugger.stepOut") }

// ContinueToLocation implements debugger.continue_to_location.
func (s *Session) ContinueToLocation(ctx context.Context, loc Location) *oprt.Error {
	if err := s.requirePaused(); err != nil {
		return err
	}
	if _, derr := s.do(ctx, "Debugger.continueToLocation", map[string]any{"location": loc}); derr != nil {
		return oprt.Newf(oprt.ErrDebuggerStepFailed, "continueToLocation: %v", derr.Message)
	}
	return nil
}

// GetCallFrames implements debugger.get_call_frames: returns the call
// frames from the most recently processed Debugger.paused event, or an
// empty slice when the engine is running.
func (s *Session) GetCallFrames() []CallFrame {
	s.framesMu.Lock()
	defer s.framesMu.Unlock()
	out := make([]CallFrame, len(s.lastFrames))
	copy(out, s.lastFrames)
	return out
}

// GetScopeChain implements debugger.get_scope_chain(callFrameId). Scopes
// are resolved from the cached call frame rather than a fresh round
// trip, and remote objects inside them are never eagerly expanded.
func (s *Session) GetScopeChain(callFrameID string) ([]Scope, *oprt.Error) {
	s.framesMu.Lock()
	defer s.framesMu.Unlock()
	for _, cf := range s.lastFrames {
		if cf.CallFrameID == callFrameID {
			return cf.ScopeChain, nil
		}
	}
	return nil, oprt.New(oprt.ErrDebuggerInvalidFrameId, "unknown call frame id: "+callFrameID)
}

// GetProperties implements debugger.get_properties(objectId, ownOnly).
func (s *Session) GetProperties(ctx context.Context, objectID string, ownOnly bool) ([]PropertyDescriptor, *oprt.Error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}
	res, derr := s.do(ctx, "Runtime.getProperties", map[string]any{
		"objectId":      objectID,
		"ownProperties": ownOnly,
	})
	if derr != nil {
		return nil, oprt.Newf(oprt.ErrDebuggerProtocolError, "getProperties: %v", derr.Message)
	}
	var result getPropertiesResult
	if err := decodeJSON(res, &result); err != nil {
		return nil, oprt.Newf(oprt.ErrDebuggerProtocolError, "decode getProperties result: %v", err)
	}
	return result.Result, nil
}

// Evaluate implements debugger.evaluate(expr, callFrameId?). It routes
// to Runtime.evaluate when callFrameID is empty and
// Debugger.evaluateOnCallFrame otherwise; an exception in the evaluated
// expression surfaces as EvaluationFailed rather than a successful
// result.
func (s *Session) Evaluate(ctx context.Context, expr string, callFrameID string) (RemoteObject, *oprt.Error) {
	if err := s.requireConnected(); err != nil {
		return RemoteObject{}, err
	}

	var res []byte
	var derr *oprt.Error
	if callFrameID == "" {
		raw, e := s.do(ctx, "Runtime.evaluate", map[string]any{"expression": expr})
		res, derr = raw, e
	} else {
		raw, e := s.do(ctx, "Debugger.evaluateOnCallFrame", map[string]any{
			"callFrameId": callFrameID,
			"expression":  expr,
		})
		res, derr = raw, e
	}
	if derr != nil {
		return RemoteObject{}, oprt.Newf(oprt.ErrDebuggerEvaluationFailed, "%v", derr)
	}

	var result evaluateResult
	if err := decodeJSON(res, &result); err != nil {
		return RemoteObject{}, oprt.Newf(oprt.ErrDebuggerEvaluationFailed, "decode evaluate result: %v", err)
	}
	if len(result.ExceptionDetails) > 0 {
		return RemoteObject{}, oprt.Newf(oprt.ErrDebuggerEvaluationFailed, "expression threw: %s", string(result.ExceptionDetails))
	}
	return result.Result, nil
}

// SetVariableValue implements debugger.set_variable_value(scopeNumber,
// name, value, callFrameId). scopeNumber is the index into the current
// frame's cached scope chain; the client maps it to CDP's
// scope-handle-free request shape, which instead addresses the scope
// positionally by the same index.
func (s *Session) SetVariableValue(ctx context.Context, scopeNumber int, name string, value any, callFrameID string) *oprt.Error {
	if err := s.requirePaused(); err != nil {
		return err
	}

	s.framesMu.Lock()
	var found bool
	for _, cf := range s.lastFrames {
		if cf.CallFrameID == callFrameID {
			found = scopeNumber >= 0 && scopeNumber < len(cf.ScopeChain)
			break
		}
	}
	s.framesMu.Unlock()
	if !found {
		return oprt.New(oprt.ErrDebuggerInvalidScopeId, fmt.Sprintf("no scope %d on call frame %s", scopeNumber, callFrameID))
	}

	_, derr := s.do(ctx, "Debugger.setVariableValue", map[string]any{
		"scopeNumber": scopeNumber,
		"variableName": name,
		"newValue":    map[string]any{"value": value},
		"callFrameId": callFrameID,
	})
	if derr != nil {
		return oprt.Newf(oprt.ErrDebuggerInvalidScopeId, "setVariableValue: %v", derr.Message)
	}
	return nil
}

// GetScriptSource implements debugger.get_script_source(scriptId).
func (s *Session) GetScriptSource(ctx context.Context, scriptID string) (string, *oprt.Error) {
	if err := s.requireConnected(); err != nil {
		return "", err
	}
	res, derr := s.do(ctx, "Debugger.getScriptSource", map[string]string{"scriptId": scriptID})
	if derr != nil {
		return "", oprt.Newf(oprt.ErrDebuggerSourceNotFound, "%s: %v", scriptID, derr.Message)
	}
	var result struct {
		ScriptSource string `json:"scriptSource"`
	}
	if err := decodeJSON(res, &result); err != nil {
		return "", oprt.Newf(oprt.ErrDebuggerSourceNotFound, "decode getScriptSource result: %v", err)
	}
	return result.ScriptSource, nil
}

// ListScripts implements debugger.list_scripts, returning every Script
// Record observed so far via Debugger.scriptParsed.
func (s *Session) ListScripts() []*ScriptRecord {
	s.scriptsMu.Lock()
	defer s.scriptsMu.Unlock()
	out := make([]*ScriptRecord, 0, len(s.scripts))
	for _, rec := range s.scripts {
		cp := *rec
		out = append(out, &cp)
	}
	return out
}

// SetPauseOnExceptions implements debugger.set_pause_on_exceptions(state).
// The chosen policy is persisted and reapplied on reconnect.
func (s *Session) SetPauseOnExceptions(ctx context.Context, state ExceptionPausePolicy) *oprt.Error {
	switch state {
	case PauseNone, PauseUncaught, PauseAll:
	default:
		return oprt.New(oprt.ErrDebuggerProtocolError, "invalid exception pause state: "+string(state))
	}
	if err := s.requireConnected(); err != nil {
		return err
	}
	if _, derr := s.do(ctx, "Debugger.setPauseOnExceptions", map[string]string{"state": string(state)}); derr != nil {
		return oprt.Newf(oprt.ErrDebuggerProtocolError, "setPauseOnExceptions: %v", derr.Message)
	}
	s.stateMu.Lock()
	s.exceptionPolicy = state
	s.stateMu.Unlock()
	return nil
}

// CreatePauseReceiver implements debugger.create_pause_receiver. The
// returned Receiver is inserted into the Resource Table by the caller
// (service.go).
func (s *Session) CreatePauseReceiver() *Receiver[PausedEvent] {
	return newReceiver(s.pauseBus, s.cfg.ReceiverQueueDepth)
}

// CreateScriptReceiver implements debugger.create_script_receiver.
func (s *Session) CreateScriptReceiver() *Receiver[ScriptEvent] {
	return newReceiver(s.scriptBus, s.cfg.ReceiverQueueDepth)
}

// Receiver is the RT-owned resource backing a guest's pause/script event
// listener: a bounded queue with one owner, closed when the guest
// drops its handle.
type Receiver[T any] struct {
	bus *eventbus.Bus[T]
	sub *eventbus.Queue[T]
}

func newReceiver[T any](bus *eventbus.Bus[T], depth int) *Receiver[T] {
	return &Receiver[T]{bus: bus, sub: bus.Subscribe(depth)}
}

// Next blocks until an event arrives, the receiver is closed, or ctx is
// cancelled. ok is false and err is nil when the receiver was closed
// (NotConnected is the caller's concern to surface).
func (r *Receiver[T]) Next(ctx context.Context) (ev T, ok bool, err error) {
	select {
	case ev = <-r.sub.Recv():
		return ev, true, nil
	case <-r.sub.Done():
		return ev, false, nil
	case <-ctx.Done():
		return ev, false, ctx.Err()
	}
}

// Overflow reports how many events this receiver has dropped.
func (r *Receiver[T]) Overflow() uint64 { return r.sub.Overflow() }

// Close implements resource.Resource.
func (r *Receiver[T]) Close() error {
	r.bus.Unsubscribe(r.sub)
	return nil
}
