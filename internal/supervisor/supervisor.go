// Package supervisor owns the backend child process: socket allocation,
// argument substitution, spawning, death watching, and shutdown cleanup.
package supervisor

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"fcgi-shim-go/internal/config"
)

// State is the supervisor lifecycle state.
type State string

const (
	StateNotStarted  State = "not-started"
	StateRunning     State = "running"
	StateTerminating State = "terminating"
	StateTerminated  State = "terminated"
)

// Supervisor spawns and supervises exactly one backend process. The backend
// and its socket are the only resources that outlive a crash, so Shutdown is
// written to run on every exit path and to tolerate being run twice.
type Supervisor struct {
	cfg     *config.Config
	logger  *slog.Logger
	command []string // raw vector, before placeholder substitution

	mu         sync.Mutex
	state      State
	socketPath string
	socketDir  string
	cmd        *exec.Cmd

	// armed gates the death watcher: cleared by Shutdown so an exit we
	// caused is not reported as an unexpected death.
	armed  atomic.Bool
	exited chan struct{} // closed when cmd.Wait returns
}

// New creates a Supervisor for the given backend command vector.
// Nothing is spawned until Start.
func New(cfg *config.Config, logger *slog.Logger, command []string) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		logger:  logger.With("component", "supervisor"),
		command: command,
		state:   StateNotStarted,
	}
}

// Start allocates the socket path, substitutes it into the command vector,
// spawns the backend and arms the death watcher. onExit is called (from the
// watcher goroutine) if the backend exits while the watcher is armed; the
// caller is expected to shut the whole process down in response.
func (s *Supervisor) Start(onExit func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateNotStarted {
		return fmt.Errorf("supervisor already started (state %s)", s.state)
	}
	if len(s.command) == 0 {
		return errors.New("no backend command given")
	}

	path, dir, err := AllocateSocketPath()
	if err != nil {
		return err
	}
	s.socketPath = path
	s.socketDir = dir

	argv, err := SubstituteSocketPath(s.command, path)
	if err != nil {
		os.Remove(dir)
		return err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		os.Remove(dir)
		return fmt.Errorf("spawn backend %q: %w", argv[0], err)
	}

	s.cmd = cmd
	s.state = StateRunning
	s.exited = make(chan struct{})
	s.armed.Store(true)

	s.logger.Info("backend started",
		"pid", cmd.Process.Pid,
		"command", argv,
		"socket", path,
	)

	go s.watch(onExit)
	return nil
}

// watch blocks on the backend process and reports its exit. While armed,
// any exit is unexpected and fatal to the whole shim.
func (s *Supervisor) watch(onExit func(error)) {
	err := s.cmd.Wait()
	close(s.exited)

	if !s.armed.Load() {
		s.logger.Debug("backend exited during shutdown", "err", err)
		return
	}
	s.logger.Error("backend exited unexpectedly", "err", err)
	if onExit != nil {
		onExit(err)
	}
}

// Shutdown terminates the backend and removes the socket. It runs the same
// sequence on every exit path and is safe to invoke more than once: a
// missing socket or an already-dead backend is logged and ignored.
//
// Sequence: disarm the watcher, unlink the socket, SIGTERM, wait up to the
// configured grace for the backend to exit, SIGKILL if it has not.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.armed.Store(false)
	if s.state == StateNotStarted {
		s.state = StateTerminated
		return nil
	}
	s.state = StateTerminating

	s.removeSocket()

	if s.cmd != nil {
		s.terminate()
	}

	if s.socketDir != "" {
		if err := os.Remove(s.socketDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("remove socket directory", "dir", s.socketDir, "err", err)
		}
	}

	s.state = StateTerminated
	return nil
}

func (s *Supervisor) removeSocket() {
	err := os.Remove(s.socketPath)
	switch {
	case err == nil:
		s.logger.Debug("socket removed", "socket", s.socketPath)
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Debug("socket already absent", "socket", s.socketPath)
	default:
		s.logger.Warn("remove socket", "socket", s.socketPath, "err", err)
	}
}

// terminate delivers SIGTERM, waits for the watcher's exit channel up to the
// configured grace, then escalates to SIGKILL.
func (s *Supervisor) terminate() {
	err := s.cmd.Process.Signal(syscall.SIGTERM)
	switch {
	case err == nil:
		s.logger.Debug("sent SIGTERM", "pid", s.cmd.Process.Pid)
	case errors.Is(err, os.ErrProcessDone):
		s.logger.Debug("backend already exited")
		return
	default:
		s.logger.Warn("signal backend", "err", err)
	}

	grace := time.Duration(s.cfg.Backend.TerminateWaitMS) * time.Millisecond
	select {
	case <-s.exited:
		s.logger.Debug("backend exited after SIGTERM")
		return
	case <-time.After(grace):
	}

	err = s.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		s.logger.Debug("backend already exited")
		return
	}
	if err != nil {
		s.logger.Warn("kill backend", "err", err)
		return
	}
	s.logger.Warn("backend did not exit within grace period; escalated to SIGKILL",
		"grace_ms", s.cfg.Backend.TerminateWaitMS)
	<-s.exited
}

// SocketPath returns the allocated socket path (empty before Start).
func (s *Supervisor) SocketPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socketPath
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PID returns the backend process identifier, or 0 before Start.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}
