// internal/sniffer/sniffer.go
package sniffer

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/rumbledeck/rumbledeck/internal/errutil"
)

// stopGrace is how long Stop waits after SIGTERM before killing.
const stopGrace = 3 * time.Second

// lineBuffer bounds how many unread output lines are kept; further
// traffic is dropped until a reader drains the buffer.
const lineBuffer = 256

// Sniffer manages the companion USB capture subprocess. Its lifecycle is
// independent of the bus gate and must tolerate being stopped while
// output is still being drained.
type Sniffer struct {
	path string

	mu    sync.Mutex
	cmd   *exec.Cmd
	lines chan string
	done  chan struct{}
}

// New creates a sniffer for the capture binary at path.
func New(path string) *Sniffer {
	return &Sniffer{path: path}
}

// Running reports whether the capture process is alive. A process that
// exited on its own reports false once its output drain finishes.
func (s *Sniffer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Start launches the capture binary and begins draining its output.
// Starting an already-running sniffer is a no-op; a process that exited
// on its own is reaped and replaced.
func (s *Sniffer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		select {
		case <-s.done:
			_ = s.cmd.Wait()
			s.cmd = nil
			s.lines = nil
			s.done = nil
		default:
			log.Info("sniffer already running")
			return nil
		}
	}
	if _, err := os.Stat(s.path); err != nil {
		return errors.Wrapf(errutil.ErrNotFound, "sniffer binary %s", s.path)
	}

	cmd := exec.Command(s.path)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "sniffer stdout pipe")
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "start sniffer %s", s.path)
	}
	log.Infof("sniffer started: %s", s.path)

	s.cmd = cmd
	s.lines = make(chan string, lineBuffer)
	s.done = make(chan struct{})
	go drain(stdout, s.lines, s.done)
	return nil
}

// drain pumps subprocess output into the line buffer until the pipe
// closes. It exits cleanly when the process is stopped mid-stream.
func drain(r io.Reader, lines chan<- string, done chan<- struct{}) {
	defer close(done)
	defer close(lines)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		log.Infof("[sniffer] %s", line)
		select {
		case lines <- line:
		default: // buffer full, drop the line
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		log.Warnf("sniffer output read error: %v", err)
	}
	log.Info("sniffer stdout closed")
}

// Stop terminates the capture process: SIGTERM first, SIGKILL after the
// grace period. Stopping an already-stopped sniffer is a no-op.
func (s *Sniffer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil {
		log.Info("sniffer not running")
		return
	}
	cmd, done := s.cmd, s.done
	s.cmd = nil
	s.lines = nil
	s.done = nil

	_ = cmd.Process.Signal(syscall.SIGTERM)

	waited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(stopGrace):
		log.Warn("sniffer ignored SIGTERM, killing")
		_ = cmd.Process.Kill()
		<-waited
	}
	<-done
	log.Info("sniffer stopped")
}

// Logs returns the buffered output lines accumulated since the last
// call, without blocking.
func (s *Sniffer) Logs() []string {
	s.mu.Lock()
	ch := s.lines
	s.mu.Unlock()

	if ch == nil {
		return nil
	}
	var out []string
	for {
		select {
		case line, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, line)
		default:
			return out
		}
	}
}
