// Package process implements the Process Service (PROC): process.spawn
// and the Child Process resource. Built around exec.Cmd plus
// creack/pty for an optional pseudo-terminal mode, with output-reader
// goroutines and exit-status bookkeeping generalized from a single
// interactive PTY shell to three independently piped/inherited/null
// stdio streams.
package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
)

// StdioMode is one of the three modes allowed per stream.
type StdioMode string

const (
	StdioPiped   StdioMode = "piped"
	StdioInherit StdioMode = "inherit"
	StdioNull    StdioMode = "null"
)

// Config configures a single process.spawn call.
type Config struct {
	Bin    string
	Args   []string
	Env    []string
	Cwd    string
	Stdin  StdioMode
	Stdout StdioMode
	Stderr StdioMode
	// TTY, when set, runs Bin under a pseudo-terminal instead of plain
	// pipes, kept as an opt-in alongside the three stdio modes.
	TTY bool
}

// Process is the Child Process resource: OS pid, pipe descriptors, and
// an exit status cell set exactly once.
type Process struct {
	cmd *exec.Cmd
	tty *os.File // non-nil when spawned with Config.TTY

	stdin io.WriteCloser

	stdoutMode StdioMode
	stderrMode StdioMode

	stdoutCh chan []byte
	stderrCh chan []byte

	mu       sync.Mutex
	exited   bool
	exitCode int
	waitCh   chan struct{}
	waitErr  error

	createdAt time.Time
	ownerID   string
}

// Spawn starts bin under cfg, wiring stdio per-stream. It never blocks on
// the process's own output: a background goroutine drains each piped
// stream into a channel the PROC op layer reads from.
func Spawn(ctx context.Context, cfg Config, ownerID string) (*Process, error) {
	var cmd *exec.Cmd
	p := &Process{
		stdoutMode: cfg.Stdout,
		stderrMode: cfg.Stderr,
		waitCh:     make(chan struct{}),
		createdAt:  time.Now(),
		ownerID:    ownerID,
	}

	if cfg.TTY {
		cmd = exec.Command(cfg.Bin, cfg.Args...)
		cmd.Dir = cfg.Cwd
		cmd.Env = cfg.Env
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return nil, fmt.Errorf("start pty: %w", err)
		}
		p.cmd = cmd
		p.tty = ptmx
		p.stdin = ptmx
		p.stdoutCh = make(chan []byte, 32)
		p.stderrCh = nil // PTY multiplexes stdout+stderr onto one fd
		go p.pump(ptmx, p.stdoutCh)
		go p.awaitExit()
		return p, nil
	}

	cmd = exec.Command(cfg.Bin, cfg.Args...)
	cmd.Dir = cfg.Cwd
	cmd.Env = cfg.Env
	p.cmd = cmd

	if cfg.Stdin == StdioPiped {
		w, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		p.stdin = w
	} else if cfg.Stdin == StdioInherit {
		cmd.Stdin = os.Stdin
	}

	if cfg.Stdout == StdioPiped {
		r, err := cmd.StdoutPipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		p.stdoutCh = make(chan []byte, 32)
		go p.pump(r, p.stdoutCh)
	} else if cfg.Stdout == StdioInherit {
		cmd.Stdout = os.Stdout
	}
	if cfg.Stderr == StdioPiped {
		r, err := cmd.StderrPipe()
		if err != nil {
			return nil, fmt.Errorf("stderr pipe: %w", err)
		}
		p.stderrCh = make(chan []byte, 32)
		go p.pump(r, p.stderrCh)
	} else if cfg.Stderr == StdioInherit {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	go p.awaitExit()
	return p, nil
}

// pump reads r in chunks, forwarding each to ch, and closes ch on EOF or
// error so ReadStdout/ReadStderr observe eof:true exactly once.
func (p *Process) pump(r io.Reader, ch chan []byte) {
	defer close(ch)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			ch <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (p *Process) awaitExit() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.exited = true
	p.waitErr = err
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	p.mu.Unlock()
	close(p.waitCh)
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// WriteStdin writes to the process's stdin. Fails if stdin isn't piped.
func (p *Process) WriteStdin(data []byte) error {
	if p.stdin == nil {
		return fmt.Errorf("stdin is not piped")
	}
	_, err := p.stdin.Write(data)
	return err
}

// ReadStdout returns the next available chunk of stdout, or eof=true once
// the stream is exhausted. Fails if stdout isn't piped.
func (p *Process) ReadStdout(ctx context.Context) (data []byte, eof bool, err error) {
	return readChan(ctx, p.stdoutCh, p.stdoutMode)
}

// ReadStderr is ReadStdout for the stderr stream.
func (p *Process) ReadStderr(ctx context.Context) (data []byte, eof bool, err error) {
	return readChan(ctx, p.stderrCh, p.stderrMode)
}

func readChan(ctx context.Context, ch chan []byte, mode StdioMode) ([]byte, bool, error) {
	if mode != StdioPiped || ch == nil {
		return nil, false, fmt.Errorf("stream is not piped")
	}
	select {
	case chunk, ok := <-ch:
		if !ok {
			return nil, true, nil
		}
		return chunk, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Wait blocks until the process exits, returning its exit code.
func (p *Process) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.waitCh:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.exitCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Status reports whether the process has exited and, if so, its code.
func (p *Process) Status() (exited bool, exitCode int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited, p.exitCode
}

// Kill sends a termination signal to the process.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return fmt.Errorf("process not started")
	}
	return p.cmd.Process.Kill()
}

// Close implements resource.Resource: terminates the process (if still
// running) and releases its pipes.
func (p *Process) Close() error {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if !exited && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
	if p.tty != nil {
		_ = p.tty.Close()
	}
	return nil
}
