//go:build e2e

package operations

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

var (
	buildOnce  sync.Once
	binaryPath string
	buildErr   error
)

// findProjectRoot walks up from this file to the directory holding go.mod.
func findProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root (no go.mod found)")
		}
		dir = parent
	}
}

// BuildPropsort builds the binary once per test run and returns its path.
func BuildPropsort(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		root, err := findProjectRoot()
		if err != nil {
			buildErr = err
			return
		}
		binaryPath = filepath.Join(root, "bin", "propsort")
		cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/propsort")
		cmd.Dir = root
		if out, err := cmd.CombinedOutput(); err != nil {
			buildErr = fmt.Errorf("failed to build propsort: %w\nOutput: %s", err, out)
		}
	})
	if buildErr != nil {
		t.Fatalf("Failed to build propsort: %v", buildErr)
	}
	return binaryPath
}

// Binary runs one propsort process.
type Binary struct {
	path   string
	cmd    *exec.Cmd
	env    []string
	stderr strings.Builder
	done   chan error
}

// NewBinary returns a Binary with the test process environment.
func NewBinary(t *testing.T) *Binary {
	t.Helper()
	return &Binary{path: BuildPropsort(t), env: os.Environ()}
}

// SetEnv sets a variable for the process. Call it before Start.
func (b *Binary) SetEnv(key, value string) {
	b.env = append(b.env, key+"="+value)
}

// Run executes propsort to completion and returns its stdout.
func (b *Binary) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, b.path, args...)
	cmd.Env = b.env
	cmd.Stderr = &b.stderr
	out, err := cmd.Output()
	return string(out), err
}

// Start launches propsort in the background.
func (b *Binary) Start(ctx context.Context, args ...string) error {
	b.cmd = exec.CommandContext(ctx, b.path, args...)
	b.cmd.Env = b.env
	b.cmd.Stderr = &b.stderr
	if err := b.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start propsort: %w", err)
	}
	b.done = make(chan error, 1)
	go func() { b.done <- b.cmd.Wait() }()
	return nil
}

// Stderr returns what the process has logged so far.
func (b *Binary) Stderr() string {
	return b.stderr.String()
}

// Signal sends sig to the running process.
func (b *Binary) Signal(sig syscall.Signal) error {
	if b.cmd == nil || b.cmd.Process == nil {
		return errors.New("process not running")
	}
	return b.cmd.Process.Signal(sig)
}

// Wait returns the exit code once the process exits, or an error after
// timeout.
func (b *Binary) Wait(timeout time.Duration) (int, error) {
	if b.done == nil {
		return -1, errors.New("process not started")
	}
	select {
	case err := <-b.done:
		b.done = nil
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		if err != nil {
			return -1, err
		}
		return 0, nil
	case <-time.After(timeout):
		return -1, fmt.Errorf("process still running after %v", timeout)
	}
}

// Running reports whether the process has not exited yet.
func (b *Binary) Running() bool {
	if b.done == nil {
		return false
	}
	select {
	case err := <-b.done:
		b.done <- err
		return false
	default:
		return true
	}
}

// Stop sends SIGTERM and kills the process if it does not exit in time.
func (b *Binary) Stop() {
	if b.done == nil {
		return
	}
	if err := b.Signal(syscall.SIGTERM); err != nil {
		return
	}
	if _, err := b.Wait(5 * time.Second); err != nil {
		b.cmd.Process.Kill()
	}
}

// WaitForReady polls /health on addr until it answers 200.
func WaitForReady(ctx context.Context, addr string, timeout time.Duration) error {
	url := fmt.Sprintf("http://%s/health", addr)
	client := &http.Client{Timeout: time.Second}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if resp, err := client.Get(url); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for %s", url)
}

// FreeAddr returns a loopback address with an unused TCP port.
func FreeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	defer l.Close()
	return l.Addr().String()
}

// WaitForFile waits until path holds want, or any content when want is
// empty.
func WaitForFile(path string, timeout time.Duration, want string) error {
	deadline := time.Now().Add(timeout)
	var last string
	for time.Now().Before(deadline) {
		if b, err := os.ReadFile(path); err == nil {
			last = string(b)
			if want == "" || last == want {
				return nil
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for %s, last content %q", path, last)
}
