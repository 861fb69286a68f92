package debugger

import (
	"context"

	"github.com/layerdynamics/forge-runtime/internal/oprt"
)

func locationStruct(loc Location) oprt.Struct {
	return oprt.Struct{
		"script_id":     loc.ScriptID,
		"line_number":   loc.LineNumber,
		"column_number": loc.ColumnNumber,
	}
}

func breakpointStruct(bp *Breakpoint) oprt.Struct {
	return oprt.Struct{
		"id":        bp.LocalID,
		"location":  locationStruct(bp.ResolvedLocation),
		"condition": bp.Condition,
		"hit_count": bp.HitCount,
		"enabled":   bp.Enabled,
	}
}

func remoteObjectStruct(obj RemoteObject) oprt.Struct {
	return oprt.Struct{
		"type":        obj.Type,
		"subtype":     obj.Subtype,
		"class_name":  obj.ClassName,
		"description": obj.Description,
		"object_id":   obj.ObjectID,
	}
}

func callFrameStruct(cf CallFrame) oprt.Struct {
	scopes := make([]oprt.Value, len(cf.ScopeChain))
	for i, sc := range cf.ScopeChain {
		scopes[i] = oprt.Struct{"type": sc.Type, "name": sc.Name, "object": remoteObjectStruct(sc.Object)}
	}
	return oprt.Struct{
		"call_frame_id": cf.CallFrameID,
		"function_name": cf.FunctionName,
		"location":      locationStruct(cf.Location),
		"scope_chain":   scopes,
		"this":          remoteObjectStruct(cf.This),
	}
}

func scriptStruct(rec *ScriptRecord) oprt.Struct {
	return oprt.Struct{
		"script_id":  rec.ScriptID,
		"url":        rec.URL,
		"hash":       rec.Hash,
		"start_line": rec.StartLine,
		"end_line":   rec.EndLine,
		"context_id": rec.ContextID,
	}
}

// RegisterOps registers the Debugger Client ops against reg. None carry
// a manifest capability kind: the debugger surface is gated by the
// dev/admin bearer token (internal/auth) at the transport layer instead.
func RegisterOps(reg *oprt.Registry, svc *Service) map[string]oprt.CapArgFunc {
	session := svc.session

	reg.Register("debugger.connect", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		return nil, svc.Connect(ctx)
	})
	reg.Register("debugger.disconnect", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		return nil, svc.Disconnect(ctx)
	})
	reg.Register("debugger.is_connected", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		return svc.IsConnected(ctx), nil
	})

	reg.Register("debugger.set_breakpoint", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		url, _ := args.String(0)
		line, _ := args.Int(1)
		cond, _ := args.Struct(2).String("condition")
		bp, err := session.SetBreakpoint(ctx, url, line, SetBreakpointOpts{Condition: cond})
		if err != nil {
			return nil, err
		}
		return breakpointStruct(bp), nil
	})
	reg.Register("debugger.remove_breakpoint", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		id, _ := args.Int(0)
		return nil, session.RemoveBreakpoint(ctx, uint64(id))
	})
	reg.Register("debugger.remove_all_breakpoints", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		n, err := session.RemoveAllBreakpoints(ctx)
		if err != nil {
			return nil, err
		}
		return n, nil
	})
	reg.Register("debugger.list_breakpoints", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		bps := session.ListBreakpoints()
		out := make([]oprt.Value, len(bps))
		for i, bp := range bps {
			out[i] = breakpointStruct(bp)
		}
		return out, nil
	})
	reg.Register("debugger.enable_breakpoint", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		id, _ := args.Int(0)
		return nil, session.EnableBreakpoint(ctx, uint64(id))
	})
	reg.Register("debugger.disable_breakpoint", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		id, _ := args.Int(0)
		return nil, session.DisableBreakpoint(ctx, uint64(id))
	})

	reg.Register("debugger.pause", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		return nil, session.Pause(ctx)
	})
	reg.Register("debugger.resume", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		return nil, session.Resume(ctx)
	})
	reg.Register("debugger.step_over", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		if err := session.StepOver(ctx); err != nil {
			return nil, err
		}
		return oprt.Struct{"success": true}, nil
	})
	reg.Register("debugger.step_into", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		if err := session.StepInto(ctx); err != nil {
			return nil, err
		}
		return oprt.Struct{"success": true}, nil
	})
	reg.Register("debugger.step_out", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		if err := session.StepOut(ctx); err != nil {
			return nil, err
		}
		return oprt.Struct{"success": true}, nil
	})
	reg.Register("debugger.continue_to_location", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		opts := args.Struct(0)
		scriptID, _ := opts.String("script_id")
		line, _ := opts.Int("line_number")
		col, _ := opts.Int("column_number")
		if err := session.ContinueToLocation(ctx, Location{ScriptID: scriptID, LineNumber: line, ColumnNumber: col}); err != nil {
			return nil, err
		}
		return oprt.Struct{"success": true}, nil
	})

	reg.Register("debugger.get_call_frames", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		frames := session.GetCallFrames()
		out := make([]oprt.Value, len(frames))
		for i, cf := range frames {
			out[i] = callFrameStruct(cf)
		}
		return out, nil
	})
	reg.Register("debugger.get_scope_chain", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		frameID, _ := args.String(0)
		scopes, err := session.GetScopeChain(frameID)
		if err != nil {
			return nil, err
		}
		out := make([]oprt.Value, len(scopes))
		for i, sc := range scopes {
			out[i] = oprt.Struct{"type": sc.Type, "name": sc.Name, "object": remoteObjectStruct(sc.Object)}
		}
		return out, nil
	})
	reg.Register("debugger.get_properties", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		objectID, _ := args.String(0)
		ownOnly, _ := args.Bool(1)
		props, err := session.GetProperties(ctx, objectID, ownOnly)
		if err != nil {
			return nil, err
		}
		out := make([]oprt.Value, len(props))
		for i, p := range props {
			out[i] = oprt.Struct{
				"name":         p.Name,
				"value":        remoteObjectStruct(p.Value),
				"writable":     p.Writable,
				"enumerable":   p.Enumerable,
				"configurable": p.Configurable,
				"is_own":       p.OwnProperty,
			}
		}
		return out, nil
	})
	reg.Register("debugger.evaluate", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		expr, _ := args.String(0)
		frameID, _ := args.String(1)
		obj, err := session.Evaluate(ctx, expr, frameID)
		if err != nil {
			return nil, err
		}
		return remoteObjectStruct(obj), nil
	})
	reg.Register("debugger.set_variable_value", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		scopeNumber, _ := args.Int(0)
		name, _ := args.String(1)
		var value oprt.Value
		if args.Len() > 2 {
			value = args[2]
		}
		frameID, _ := args.String(3)
		return nil, session.SetVariableValue(ctx, scopeNumber, name, value, frameID)
	})
	reg.Register("debugger.get_script_source", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		scriptID, _ := args.String(0)
		src, err := session.GetScriptSource(ctx, scriptID)
		if err != nil {
			return nil, err
		}
		return src, nil
	})
	reg.Register("debugger.list_scripts", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		recs := session.ListScripts()
		out := make([]oprt.Value, len(recs))
		for i, rec := range recs {
			out[i] = scriptStruct(rec)
		}
		return out, nil
	})
	reg.Register("debugger.set_pause_on_exceptions", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		state, _ := args.String(0)
		return nil, session.SetPauseOnExceptions(ctx, ExceptionPausePolicy(state))
	})

	reg.Register("debugger.create_pause_receiver", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		return svc.CreatePauseReceiver(ctx), nil
	})
	reg.Register("debugger.receive_pause_event", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, _ := args.RID(0)
		ev, err := svc.ReceivePauseEvent(ctx, rid)
		if err != nil {
			return nil, err
		}
		frames := make([]oprt.Value, len(ev.CallFrames))
		for i, cf := range ev.CallFrames {
			frames[i] = callFrameStruct(cf)
		}
		hit := make([]oprt.Value, len(ev.HitBreakpoints))
		for i, h := range ev.HitBreakpoints {
			hit[i] = h
		}
		return oprt.Struct{
			"reason":          ev.Reason,
			"call_frames":     frames,
			"hit_breakpoints": hit,
		}, nil
	})
	reg.Register("debugger.create_script_receiver", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		return svc.CreateScriptReceiver(ctx), nil
	})
	reg.Register("debugger.receive_script_event", "", func(ctx context.Context, args oprt.Args) (oprt.Value, *oprt.Error) {
		rid, _ := args.RID(0)
		ev, err := svc.ReceiveScriptEvent(ctx, rid)
		if err != nil {
			return nil, err
		}
		return scriptStruct(&ScriptRecord{
			ScriptID: ev.ScriptID, URL: ev.URL, Hash: ev.Hash,
			StartLine: ev.StartLine, EndLine: ev.EndLine, ContextID: ev.ContextID,
		}), nil
	})

	return nil
}
