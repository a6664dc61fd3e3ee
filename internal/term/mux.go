// pattern: Imperative Shell

// Package term owns the interactive shells: exactly one PTY-backed
// subprocess per connection, spawned when the connection is accepted and
// torn down when it closes. Terminal I/O is strictly private to the
// owning connection; nothing here ever fans out.
package term

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"

	"coderoom/internal/logging"
)

// Config describes the shell to start for a connection.
type Config struct {
	Command string   // shell binary, e.g. /bin/bash
	Args    []string // extra arguments
	Rows    uint16   // initial terminal size
	Cols    uint16
}

// OutputFunc receives PTY output in arrival order. It is called from the
// handle's pump goroutine; implementations forward to the owning
// connection and must tolerate being called until Kill completes.
type OutputFunc func(p []byte)

// Mux is the process multiplexer: a connection-keyed table of live
// terminal handles.
type Mux struct {
	mu      sync.Mutex
	handles map[string]*handle
	logs    logging.LoggerProvider
}

// NewMux creates an empty multiplexer.
func NewMux(logProvider logging.LoggerProvider) *Mux {
	return &Mux{
		handles: make(map[string]*handle),
		logs:    logProvider,
	}
}

// handle is one live subprocess bound to one connection.
type handle struct {
	ptmx      *os.File
	cmd       *exec.Cmd
	closeOnce sync.Once
	done      chan struct{} // closed when the output pump exits
	logger    *logging.ScopedLogger
}

// Spawn starts a shell for connID and begins pumping its output to out.
// A startup failure is returned to the caller (it is surfaced to the one
// connection, never fatal to the broker). Spawning twice for the same
// live connection violates the one-handle invariant and errors.
func (m *Mux) Spawn(connID string, cfg Config, out OutputFunc) error {
	logger := m.logs.For("term." + connID)

	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), "TERM=xterm-256color", "COLORTERM=truecolor")

	rows, cols := cfg.Rows, cfg.Cols
	if rows == 0 {
		rows = 24
	}
	if cols == 0 {
		cols = 80
	}

	m.mu.Lock()
	if _, exists := m.handles[connID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("connection %s already has a terminal", connID)
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		m.mu.Unlock()
		logger.Error("pty start failed", "command", cfg.Command, "error", err)
		return fmt.Errorf("start terminal %s: %w", cfg.Command, err)
	}

	h := &handle{
		ptmx:   ptmx,
		cmd:    cmd,
		done:   make(chan struct{}),
		logger: logger,
	}
	m.handles[connID] = h
	m.mu.Unlock()

	logger.Info("terminal started", "command", cfg.Command, "pid", cmd.Process.Pid)

	// PTY output → connection, in arrival order. The pump exits when the
	// process exits or Kill closes the PTY.
	go func() {
		defer close(h.done)
		buf := make([]byte, 4096)
		for {
			n, err := ptmx.Read(buf)
			if n > 0 {
				out(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	return nil
}

// Write forwards input bytes to the connection's shell. No-op if the
// connection has no handle.
func (m *Mux) Write(connID string, p []byte) {
	m.mu.Lock()
	h := m.handles[connID]
	m.mu.Unlock()
	if h == nil {
		return
	}
	// Write errors are non-fatal; the process may have exited already.
	_, _ = h.ptmx.Write(p)
}

// Resize updates the PTY window size. No-op if the connection has no
// handle.
func (m *Mux) Resize(connID string, rows, cols uint16) {
	m.mu.Lock()
	h := m.handles[connID]
	m.mu.Unlock()
	if h == nil {
		return
	}
	_ = pty.Setsize(h.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// Kill terminates the connection's shell and releases its resources.
// Idempotent: safe on an already-killed or never-spawned connection.
// Blocks until the output pump has stopped, so no output callback runs
// after Kill returns.
func (m *Mux) Kill(connID string) {
	m.mu.Lock()
	h := m.handles[connID]
	delete(m.handles, connID)
	m.mu.Unlock()
	if h == nil {
		return
	}

	h.closeOnce.Do(func() {
		// Closing the PTY interrupts any in-flight read and stops the pump.
		_ = h.ptmx.Close()
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
		_ = h.cmd.Wait()
		h.logger.Info("terminal stopped")
	})
	<-h.done
}

// Alive reports whether the connection currently owns a handle.
func (m *Mux) Alive(connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[connID]
	return ok
}
