package provision

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	return path
}

func TestProcess_CapturesOutput(t *testing.T) {
	logger := zaptest.NewLogger(t)
	script := writeScript(t, "echo one\necho two >&2\necho three\n")

	var out safeBuffer
	var mu sync.Mutex
	var seen []string

	p := NewProcess(ProcessSpec{
		Name:   script,
		Output: &out,
		OnLine: func(line string) {
			mu.Lock()
			seen = append(seen, line)
			mu.Unlock()
		},
	}, logger)

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start process: %v", err)
	}
	if p.PID() <= 0 {
		t.Error("PID should be positive")
	}

	code, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if code != 0 {
		t.Errorf("Expected exit code 0, got %d", code)
	}
	if p.IsRunning() {
		t.Error("Process should not be running after Wait")
	}

	got := out.String()
	for _, want := range []string{"one\n", "two\n", "three\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("Output %q missing %q", got, want)
		}
	}
	if len(seen) != 3 {
		t.Errorf("Expected 3 lines passed to OnLine, got %d", len(seen))
	}
}

func TestProcess_ExitCode(t *testing.T) {
	p := NewProcess(ProcessSpec{Name: writeScript(t, "exit 7\n")}, zaptest.NewLogger(t))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start process: %v", err)
	}
	code, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait returned error: %v", err)
	}
	if code != 7 {
		t.Errorf("Expected exit code 7, got %d", code)
	}
}

func TestProcess_StartMissingBinary(t *testing.T) {
	p := NewProcess(ProcessSpec{Name: "/nonexistent/oneprovision"}, zaptest.NewLogger(t))
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("Expected error starting missing binary")
	}
	if _, err := p.Wait(); err == nil {
		t.Error("Expected error waiting on a process that never started")
	}
}

func TestProcess_KilledAfterGrace(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewProcess(ProcessSpec{
		Name:      writeScript(t, "trap '' TERM\nexec sleep 30\n"),
		StopGrace: 300 * time.Millisecond,
	}, zaptest.NewLogger(t))

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Failed to start process: %v", err)
	}

	type result struct {
		code int
		err  error
	}
	waited := make(chan result, 1)
	go func() {
		code, err := p.Wait()
		waited <- result{code, err}
	}()

	cancel()

	select {
	case r := <-waited:
		if r.code != -1 {
			t.Errorf("Expected -1 for a killed process, got %d (err %v)", r.code, r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Process ignoring SIGTERM was not killed after the grace period")
	}

	if p.IsRunning() {
		t.Error("Process should be stopped")
	}
}

func TestProcess_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewProcess(ProcessSpec{
		Name:      writeScript(t, "exec sleep 30\n"),
		StopGrace: 200 * time.Millisecond,
	}, zaptest.NewLogger(t))

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Failed to start process: %v", err)
	}

	cancel()
	start := time.Now()
	code, _ := p.Wait()
	if code != -1 {
		t.Errorf("Expected -1 for a cancelled process, got %d", code)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Cancelled process took too long to exit")
	}
}
