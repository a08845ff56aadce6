// Package provision wraps the provisioning CLI: synchronous queries, and
// long-running create/delete jobs whose output is streamed to log files.
package provision

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// maxLineLength bounds a single line of CLI output.
const maxLineLength = 1 << 20

// ProcessSpec describes a CLI invocation.
type ProcessSpec struct {
	// Name is the executable, looked up in PATH.
	Name string

	// Args are passed verbatim and never logged.
	Args []string

	// Output receives every stdout and stderr line followed by a newline.
	Output io.Writer

	// OnLine is called for every output line, from the capture goroutines.
	OnLine func(line string)

	// StopGrace is how long SIGTERM is given before the process is killed.
	StopGrace time.Duration
}

// Process runs one CLI invocation with its output captured line by line.
type Process struct {
	spec   ProcessSpec
	logger *zap.Logger

	mu      sync.RWMutex
	cmd     *exec.Cmd
	running bool
	pid     int

	outMu   sync.Mutex
	capture sync.WaitGroup
	pipes   []*io.PipeWriter
}

// NewProcess creates a process wrapper.
func NewProcess(spec ProcessSpec, logger *zap.Logger) *Process {
	if spec.StopGrace <= 0 {
		spec.StopGrace = 10 * time.Second
	}
	if spec.Output == nil {
		spec.Output = io.Discard
	}
	return &Process{
		spec:   spec,
		logger: logger,
	}
}

// Start launches the process. Cancelling ctx sends SIGTERM and, after the
// grace period, kills it.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return errors.New("process already started")
	}

	cmd := exec.CommandContext(ctx, p.spec.Name, p.spec.Args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = p.spec.StopGrace

	// exec copies into the pipe writers itself, so Wait only returns once
	// all output has been handed to the scanners.
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	p.pipes = []*io.PipeWriter{stdoutW, stderrW}

	p.capture.Add(2)
	go p.captureOutput(stdoutR, "stdout")
	go p.captureOutput(stderrR, "stderr")

	if err := cmd.Start(); err != nil {
		p.closePipes()
		p.capture.Wait()
		return fmt.Errorf("failed to start %s: %w", p.spec.Name, err)
	}

	p.cmd = cmd
	p.running = true
	p.pid = cmd.Process.Pid

	p.logger.Info("provision process started",
		zap.Int("pid", p.pid),
		zap.String("command", p.spec.Name))

	return nil
}

// Wait blocks until the process exits and all its output is written. It
// returns the exit code; a process killed by a signal reports -1.
func (p *Process) Wait() (int, error) {
	p.mu.RLock()
	cmd := p.cmd
	pid := p.pid
	p.mu.RUnlock()

	if cmd == nil {
		return -1, errors.New("process not started")
	}

	err := cmd.Wait()
	p.closePipes()
	p.capture.Wait()

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	if err == nil {
		p.logger.Info("provision process exited normally", zap.Int("pid", pid))
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			p.logger.Info("provision process killed by signal",
				zap.String("signal", status.Signal().String()),
				zap.Int("pid", pid))
			return -1, nil
		}
		p.logger.Warn("provision process exited with error",
			zap.Int("exit_code", exitErr.ExitCode()),
			zap.Int("pid", pid))
		return exitErr.ExitCode(), nil
	}

	// WaitDelay expiry or an I/O failure; the exit status may still be known.
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode(), err
	}
	return -1, err
}

// IsRunning returns whether the process is currently running.
func (p *Process) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// PID returns the process ID.
func (p *Process) PID() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pid
}

func (p *Process) closePipes() {
	for _, w := range p.pipes {
		w.Close()
	}
}

// captureOutput copies lines to the output sink and the logger.
func (p *Process) captureOutput(reader io.Reader, source string) {
	defer p.capture.Done()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), maxLineLength)
	for scanner.Scan() {
		line := scanner.Text()

		p.outMu.Lock()
		fmt.Fprintln(p.spec.Output, line)
		p.outMu.Unlock()

		p.logger.Debug("provision output",
			zap.String("source", source),
			zap.String("line", line))

		if p.spec.OnLine != nil {
			p.spec.OnLine(line)
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Error("error reading provision output",
			zap.Error(err),
			zap.String("source", source))
		// Keep draining so the child never blocks on a full pipe.
		io.Copy(io.Discard, reader)
	}
}
