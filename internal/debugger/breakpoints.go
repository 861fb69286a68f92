package debugger

import (
	"context"
	"sync/atomic"

	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

// Breakpoint is a guest-visible breakpoint record. The guest sees
// LocalID, which stays stable across an enable/disable cycle even
// though CDPID changes underneath it — the indirection that keeps hit
// counts continuous across a disable/enable cycle.
type Breakpoint struct {
	LocalID          uint64
	CDPID            string
	RequestedURL      string
	RequestedLine     int
	ResolvedLocation Location
	Condition        string
	HitCount         int
	Enabled          bool
}

// SetBreakpointOpts mirrors the op-level {condition?} option bag
// passed to set_breakpoint(url, line, opts).
type SetBreakpointOpts struct {
	Condition string
}

type setBreakpointByURLParams struct {
	URL        string `json:"url"`
	LineNumber int    `json:"lineNumber"`
	Condition  string `json:"condition,omitempty"`
}

// SetBreakpoint implements debugger.set_breakpoint(url, line, opts).
func (s *Session) SetBreakpoint(ctx context.Context, url string, line int, opts SetBreakpointOpts) (*Breakpoint, *oprt.Error) {
	if err := s.requireConnected(); err != nil {
		return nil, err
	}

	res, derr := s.do(ctx, "Debugger.setBreakpointByUrl", setBreakpointByURLParams{
		URL:        url,
		LineNumber: line,
		Condition:  opts.Condition,
	})
	if derr != nil {
		return nil, oprt.Newf(oprt.ErrDebuggerBreakpointFailed, "setBreakpointByUrl: %v", derr.Message)
	}

	var result setBreakpointByURLResult
	if err := decodeJSON(res, &result); err != nil {
		return nil, oprt.Newf(oprt.ErrDebuggerBreakpointFailed, "decode setBreakpointByUrl result: %v", err)
	}
	if result.BreakpointID == "" {
		return nil, oprt.New(oprt.ErrDebuggerBreakpointFailed, "inspector returned no breakpointId")
	}

	resolved := Location{ScriptID: "", LineNumber: line}
	if len(result.Locations) > 0 {
		resolved = result.Locations[0]
	}

	localID := atomic.AddUint64(&s.nextLocalBPID, 1)
	bp := &Breakpoint{
		LocalID:          localID,
		CDPID:            result.BreakpointID,
		RequestedURL:      url,
		RequestedLine:     line,
		ResolvedLocation: resolved,
		Condition:        opts.Condition,
		Enabled:          true,
	}

	s.bpMu.Lock()
	s.breakpoints[localID] = bp
	s.cdpToLocal[result.BreakpointID] = localID
	s.bpMu.Unlock()

	return bp, nil
}

// RemoveBreakpoint implements debugger.remove_breakpoint.
func (s *Session) RemoveBreakpoint(ctx context.Context, localID uint64) *oprt.Error {
	if err := s.requireConnected(); err != nil {
		return err
	}

	s.bpMu.Lock()
	bp, ok := s.breakpoints[localID]
	if !ok {
		s.bpMu.Unlock()
		return oprt.New(oprt.ErrDebuggerBreakpointFailed, "unknown breakpoint id")
	}
	cdpID := bp.CDPID
	delete(s.breakpoints, localID)
	delete(s.cdpToLocal, cdpID)
	s.bpMu.Unlock()

	if !bp.Enabled {
		// Already removed from CDP's own table when disabled.
		return nil
	}
	if _, derr := s.do(ctx, "Debugger.removeBreakpoint", map[string]string{"breakpointId": cdpID}); derr != nil {
		return oprt.Newf(oprt.ErrDebuggerBreakpointFailed, "removeBreakpoint: %v", derr.Message)
	}
	return nil
}

// RemoveAllBreakpoints implements debugger.remove_all_breakpoints. It is
// a no-op returning 0 on an empty set.
func (s *Session) RemoveAllBreakpoints(ctx context.Context) (int, *oprt.Error) {
	if err := s.requireConnected(); err != nil {
		return 0, err
	}

	s.bpMu.Lock()
	ids := make([]uint64, 0, len(s.breakpoints))
	for id := range s.breakpoints {
		ids = append(ids, id)
	}
	s.bpMu.Unlock()

	for _, id := range ids {
		if err := s.RemoveBreakpoint(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// ListBreakpoints implements debugger.list_breakpoints, returning the
// guest-authoritative local bookkeeping.
func (s *Session) ListBreakpoints() []*Breakpoint {
	s.bpMu.Lock()
	defer s.bpMu.Unlock()
	out := make([]*Breakpoint, 0, len(s.breakpoints))
	for _, bp := range s.breakpoints {
		cp := *bp
		out = append(out, &cp)
	}
	return out
}

// DisableBreakpoint implements debugger.disable_breakpoint: issues
// Debugger.removeBreakpoint but keeps the local record (and its hit
// count) alive under its stable LocalID.
func (s *Session) DisableBreakpoint(ctx context.Context, localID uint64) *oprt.Error {
	if err := s.requireConnected(); err != nil {
		return err
	}

	s.bpMu.Lock()
	bp, ok := s.breakpoints[localID]
	if !ok {
		s.bpMu.Unlock()
		return oprt.New(oprt.ErrDebuggerBreakpointFailed, "unknown breakpoint id")
	}
	if !bp.Enabled {
		s.bpMu.Unlock()
		return nil
	}
	cdpID := bp.CDPID
	s.bpMu.Unlock()

	if _, derr := s.do(ctx, "Debugger.removeBreakpoint", map[string]string{"breakpointId": cdpID}); derr != nil {
		return oprt.Newf(oprt.ErrDebuggerBreakpointFailed, "removeBreakpoint: %v", derr.Message)
	}

	s.bpMu.Lock()
	delete(s.cdpToLocal, cdpID)
	bp.Enabled = false
	bp.CDPID = ""
	s.bpMu.Unlock()
	return nil
}

// EnableBreakpoint implements debugger.enable_breakpoint: re-issues
// Debugger.setBreakpointByUrl with the cached condition. The CDP id
// changes; the local id and accumulated hit count do not.
func (s *Session) EnableBreakpoint(ctx context.Context, localID uint64) *oprt.Error {
	if err := s.requireConnected(); err != nil {
		return err
	}

	s.bpMu.Lock()
	bp, ok := s.breakpoints[localID]
	if !ok {
		s.bpMu.Unlock()
		return oprt.New(oprt.ErrDebuggerBreakpointFailed, "unknown breakpoint id")
	}
	if bp.Enabled {
		s.bpMu.Unlock()
		return nil
	}
	url, line, cond := bp.RequestedURL, bp.RequestedLine, bp.Condition
	s.bpMu.Unlock()

	res, derr := s.do(ctx, "Debugger.setBreakpointByUrl", setBreakpointByURLParams{
		URL:        url,
		LineNumber: line,
		Condition:  cond,
	})
	if derr != nil {
		return oprt.Newf(oprt.ErrDebuggerBreakpointFailed, "setBreakpointByUrl: %v", derr.Message)
	}
	var result setBreakpointByURLResult
	if err := decodeJSON(res, &result); err != nil {
		return oprt.Newf(oprt.ErrDebuggerBreakpointFailed, "decode setBreakpointByUrl result: %v", err)
	}

	s.bpMu.Lock()
	bp.CDPID = result.BreakpointID
	bp.Enabled = true
	if len(result.Locations) > 0 {
		bp.ResolvedLocation = result.Locations[0]
	}
	s.cdpToLocal[result.BreakpointID] = localID
	s.bpMu.Unlock()
	return nil
}
