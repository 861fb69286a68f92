package process

import (
	"context"
	"fmt"

	"github.com/layerdynamics/forge-runtime/internal/oprt"
	"github.com/layerdynamics/forge-runtime/internal/resource"
)

// procErr maps a process-layer failure to the filesystem-family error
// codes: PROC, like STG, has no error-code range of its own, so failures
// surface through the nearest taxonomy entry — IoError for general
// failures, InvalidHandle for a stale/unknown rid.
func procErr(message string) *oprt.Error {
	return oprt.New(oprt.ErrFSIoError, message)
}

func invalidHandle(message string) *oprt.Error {
	return oprt.New(oprt.ErrFSInvalidHandle, message)
}

// Service implements the Process Service (PROC) ops against the shared
// Resource Table.
type Service struct {
	table *resource.Table
}

// NewService builds a process service backed by table.
func NewService(table *resource.Table) *Service {
	return &Service{table: table}
}

func modeOf(s oprt.Struct, key string) StdioMode {
	v, ok := s.String(key)
	if !ok {
		return StdioNull
	}
	switch StdioMode(v) {
	case StdioPiped, StdioInherit, StdioNull:
		return StdioMode(v)
	default:
		return StdioNull
	}
}

// Spawn implements process.spawn(bin, {args, env, cwd, stdin, stdout,
// stderr}) → rid + pid.
func (s *Service) Spawn(ctx context.Context, bin string, opts oprt.Struct) (oprt.RID, int, *oprt.Error) {
	args, _ := opts.StringSlice("args")
	env, _ := opts.StringSlice("env")
	cwd, _ := opts.String("cwd")
	tty, _ := opts.Bool("tty")

	cfg := Config{
		Bin:    bin,
		Args:   args,
		Env:    env,
		Cwd:    cwd,
		Stdin:  modeOf(opts, "stdin"),
		Stdout: modeOf(opts, "stdout"),
		Stderr: modeOf(opts, "stderr"),
		TTY:    tty,
	}

	proc, err := Spawn(ctx, cfg, "")
	if err != nil {
		return 0, 0, procErr(err.Error())
	}
	id := s.table.Insert(proc)
	return oprt.RID(id), proc.Pid(), nil
}

func (s *Service) get(rid oprt.RID) (*Process, *oprt.Error) {
	proc, err := resource.Get[*Process](s.table, resource.ID(rid))
	if err != nil {
		return nil, invalidHandle(fmt.Sprintf("unknown process handle: %v", err))
	}
	return proc, nil
}

// Kill implements process.kill(rid, signal?). The signal argument is
// currently ignored: Go's Process.Kill always sends SIGKILL.
func (s *Service) Kill(_ context.Context, rid oprt.RID) *oprt.Error {
	proc, oerr := s.get(rid)
	if oerr != nil {
		return oerr
	}
	if err := proc.Kill(); err != nil {
		return procErr(err.Error())
	}
	return nil
}

// Wait implements process.wait(rid) → exit_code.
func (s *Service) Wait(ctx context.Context, rid oprt.RID) (int, *oprt.Error) {
	proc, oerr := s.get(rid)
	if oerr != nil {
		return 0, oerr
	}
	code, err := proc.Wait(ctx)
	if err != nil {
		return 0, procErr(err.Error())
	}
	return code, nil
}

// Status implements process.status(rid).
func (s *Service) Status(_ context.Context, rid oprt.RID) (oprt.Struct, *oprt.Error) {
	proc, oerr := s.get(rid)
	if oerr != nil {
		return nil, oerr
	}
	exited, code := proc.Status()
	return oprt.Struct{
		"pid":       proc.Pid(),
		"exited":    exited,
		"exit_code": code,
	}, nil
}

// WriteStdin implements process.write_stdin(rid, data).
func (s *Service) WriteStdin(_ context.Context, rid oprt.RID, data []byte) *oprt.Error {
	proc, oerr := s.get(rid)
	if oerr != nil {
		return oerr
	}
	if err := proc.WriteStdin(data); err != nil {
		return procErr(err.Error())
	}
	return nil
}

// ReadStdout implements process.read_stdout(rid) → {data?, eof}.
func (s *Service) ReadStdout(ctx context.Context, rid oprt.RID) (oprt.Struct, *oprt.Error) {
	proc, oerr := s.get(rid)
	if oerr != nil {
		return nil, oerr
	}
	data, eof, err := proc.ReadStdout(ctx)
	if err != nil {
		return nil, procErr(err.Error())
	}
	return oprt.Struct{"data": oprt.Bytes(data), "eof": eof}, nil
}

// ReadStderr implements process.read_stderr(rid) → {data?, eof}.
func (s *Service) ReadStderr(ctx context.Context, rid oprt.RID) (oprt.Struct, *oprt.Error) {
	proc, oerr := s.get(rid)
	if oerr != nil {
		return nil, oerr
	}
	data, eof, err := proc.ReadStderr(ctx)
	if err != nil {
		return nil, procErr(err.Error())
	}
	return oprt.Struct{"data": oprt.Bytes(data), "eof": eof}, nil
}
