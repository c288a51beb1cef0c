package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Process is one child process of the cluster with captured output
type Process struct {
	Name   string
	Binary string
	Args   []string
	Env    []string
	// Output, when set, receives every log line prefixed with the process name
	Output io.Writer

	cmd     *exec.Cmd
	logs    *LogBuffer
	mu      sync.Mutex
	exited  chan struct{}
	exitErr error
}

// NewProcess creates a new Process instance
func NewProcess(name, binary string, args ...string) *Process {
	return &Process{
		Name:   name,
		Binary: binary,
		Args:   args,
		logs:   &LogBuffer{},
	}
}

// Start starts the process
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return fmt.Errorf("process %s already started", p.Name)
	}

	cmd := exec.Command(p.Binary, p.Args...)
	cmd.Env = append(os.Environ(), p.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.Name, err)
	}
	p.cmd = cmd
	p.exited = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go p.captureLogs(&wg, stdout)
	go p.captureLogs(&wg, stderr)

	go func() {
		// Wait closes the pipes, so the readers must finish first
		wg.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.exited)
	}()

	return nil
}

// PID returns the process id, or 0 before Start
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Exited is closed once the process has exited
func (p *Process) Exited() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.exited
}

// Err returns the exit error once the process has exited
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// IsRunning returns true if the process is currently running
func (p *Process) IsRunning() bool {
	select {
	case <-p.Exited():
		return false
	default:
		return true
	}
}

// Stop sends SIGTERM and kills the process if it has not exited within timeout
func (p *Process) Stop(timeout time.Duration) error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil || !p.IsRunning() {
		return nil
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to signal %s: %w", p.Name, err)
	}

	select {
	case <-p.Exited():
		if err := p.Err(); err != nil && !terminatedBy(err, syscall.SIGTERM) {
			return fmt.Errorf("%s exited with error: %w", p.Name, err)
		}
		return nil
	case <-time.After(timeout):
		return p.Kill()
	}
}

// Kill forcefully kills the process with SIGKILL
func (p *Process) Kill() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil || !p.IsRunning() {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill %s: %w", p.Name, err)
	}
	<-p.Exited()
	return nil
}

// Logs returns all captured output
func (p *Process) Logs() string {
	return p.logs.String()
}

// WaitForLog waits for a line containing pattern
func (p *Process) WaitForLog(ctx context.Context, pattern string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.logs.Contains(pattern) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %q in %s logs: %w", pattern, p.Name, ctx.Err())
		case <-p.Exited():
			if p.logs.Contains(pattern) {
				return nil
			}
			return fmt.Errorf("%s exited before logging %q", p.Name, pattern)
		case <-ticker.C:
		}
	}
}

func (p *Process) captureLogs(wg *sync.WaitGroup, reader io.Reader) {
	defer wg.Done()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		p.logs.Append(line)
		if p.Output != nil {
			fmt.Fprintf(p.Output, "[%s] %s\n", p.Name, line)
		}
	}
}

func terminatedBy(err error, sig syscall.Signal) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	ws, ok := exitErr.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled() && ws.Signal() == sig
}

// LogBuffer provides thread-safe log buffering with timestamps
type LogBuffer struct {
	mu    sync.RWMutex
	lines []logLine
}

type logLine struct {
	timestamp time.Time
	content   string
}

// Append adds a log line to the buffer
func (lb *LogBuffer) Append(line string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.lines = append(lb.lines, logLine{
		timestamp: time.Now(),
		content:   line,
	})
}

// String returns all logs as a single string
func (lb *LogBuffer) String() string {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	var sb strings.Builder
	for _, line := range lb.lines {
		sb.WriteString(line.content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// Since returns logs since the given timestamp
func (lb *LogBuffer) Since(since time.Time) string {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	var sb strings.Builder
	for _, line := range lb.lines {
		if line.timestamp.After(since) {
			sb.WriteString(line.content)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Contains checks if the logs contain a specific pattern
func (lb *LogBuffer) Contains(pattern string) bool {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	for _, line := range lb.lines {
		if strings.Contains(line.content, pattern) {
			return true
		}
	}
	return false
}

// Lines returns the number of log lines
func (lb *LogBuffer) Lines() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	return len(lb.lines)
}
