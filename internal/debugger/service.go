package debugger

import (
	"context"
	"fmt"

	"github.com/layerdynamics/forge-runtime/internal/oprt"
	"github.com/layerdynamics/forge-runtime/internal/resource"
)

// Service wires a single Session (at most one process-wide, per the
// Debugger Session entity) to the Resource Table, so pause/script
// receivers are guest-visible rids like every other long-lived handle.
type Service struct {
	session *Session
	table   *resource.Table
}

// NewService builds a debugger service around session, issuing receiver
// resources through table.
func NewService(session *Session, table *resource.Table) *Service {
	return &Service{session: session, table: table}
}

// Connect implements debugger.connect(opts).
func (s *Service) Connect(ctx context.Context) *oprt.Error {
	return s.session.Connect(ctx)
}

// Disconnect implements debugger.disconnect.
func (s *Service) Disconnect(_ context.Context) *oprt.Error {
	return s.session.Disconnect()
}

// IsConnected implements debugger.is_connected.
func (s *Service) IsConnected(_ context.Context) oprt.Struct {
	return oprt.Struct{"connected": s.session.IsConnected()}
}

// CreatePauseReceiver implements debugger.create_pause_receiver.
func (s *Service) CreatePauseReceiver(_ context.Context) oprt.RID {
	rid := s.table.Insert(s.session.CreatePauseReceiver())
	return oprt.RID(rid)
}

// ReceivePauseEvent implements debugger.receive_pause_event(rid).
func (s *Service) ReceivePauseEvent(ctx context.Context, rid oprt.RID) (PausedEvent, *oprt.Error) {
	recv, err := resource.Get[*Receiver[PausedEvent]](s.table, resource.ID(rid))
	if err != nil {
		return PausedEvent{}, oprt.New(oprt.ErrDebuggerNotConnected, fmt.Sprintf("unknown pause receiver: %v", err))
	}
	ev, ok, rerr := recv.Next(ctx)
	if rerr != nil {
		return PausedEvent{}, oprt.Newf(oprt.ErrDebuggerTimeout, "%v", rerr)
	}
	if !ok {
		return PausedEvent{}, oprt.New(oprt.ErrDebuggerNotConnected, "pause receiver closed")
	}
	return ev, nil
}

// CreateScriptReceiver implements debugger.create_script_receiver.
func (s *Service) CreateScriptReceiver(_ context.Context) oprt.RID {
	rid := s.table.Insert(s.session.CreateScriptReceiver())
	return oprt.RID(rid)
}

// ReceiveScriptEvent implements debugger.receive_script_event(rid).
func (s *Service) ReceiveScriptEvent(ctx context.Context, rid oprt.RID) (ScriptEvent, *oprt.Error) {
	recv, err := resource.Get[*Receiver[ScriptEvent]](s.table, resource.ID(rid))
	if err != nil {
		return ScriptEvent{}, oprt.New(oprt.ErrDebuggerNotConnected, fmt.Sprintf("unknown script receiver: %v", err))
	}
	ev, ok, rerr := recv.Next(ctx)
	if rerr != nil {
		return ScriptEvent{}, oprt.Newf(oprt.ErrDebuggerTimeout, "%v", rerr)
	}
	if !ok {
		return ScriptEvent{}, oprt.New(oprt.ErrDebuggerNotConnected, "script receiver closed")
	}
	return ev, nil
}

// DropReceiver releases a pause or script receiver, whichever type rid
// happens to hold.
func (s *Service) DropReceiver(_ context.Context, rid oprt.RID) *oprt.Error {
	if err := s.table.Drop(resource.ID(rid)); err != nil {
		return oprt.New(oprt.ErrDebuggerNotConnected, fmt.Sprintf("unknown receiver: %v", err))
	}
	return nil
}
