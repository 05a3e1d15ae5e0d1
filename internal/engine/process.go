package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Handle identifies a spawned engine process.
type Handle interface {
	PID() int
}

// LogLine is one line of process output with a level inferred from its text.
type LogLine struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// ProcessController spawns and stops engine processes.
type ProcessController interface {
	Start(ctx context.Context, cfg EngineConfig) (Handle, error)
	Stop(h Handle) error
	IsAlive(h Handle) bool
	RecentLogs(h Handle, n int) []LogLine
}

// ExecController runs the engine binary with os/exec and keeps the last
// lines of its combined output in memory.
type ExecController struct {
	// LogLines is the ring size. Default 200.
	LogLines int
	// StopGrace is how long to wait after SIGTERM before killing. Default 2s.
	StopGrace time.Duration
}

type execHandle struct {
	cmd  *exec.Cmd
	ring *lineRing
	done chan struct{}

	mu      sync.Mutex
	exitErr error
}

func (h *execHandle) PID() int { return h.cmd.Process.Pid }

func (c *ExecController) Start(_ context.Context, cfg EngineConfig) (Handle, error) {
	if strings.TrimSpace(cfg.Binary) == "" {
		return nil, errors.New("engine binary is not configured")
	}
	n := c.LogLines
	if n <= 0 {
		n = 200
	}
	ring := newLineRing(n)
	cmd := exec.Command(cfg.Binary, cfg.Args()...)
	cmd.Stdout = ring
	cmd.Stderr = ring
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cfg.Binary, err)
	}
	h := &execHandle{cmd: cmd, ring: ring, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.exitErr = err
		h.mu.Unlock()
		ring.flush()
		close(h.done)
	}()
	return h, nil
}

func (c *ExecController) Stop(h Handle) error {
	eh, ok := h.(*execHandle)
	if !ok || eh == nil {
		return nil
	}
	select {
	case <-eh.done:
		return nil
	default:
	}
	grace := c.StopGrace
	if grace <= 0 {
		grace = 2 * time.Second
	}
	_ = eh.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-eh.done:
	case <-time.After(grace):
		_ = eh.cmd.Process.Kill()
		<-eh.done
	}
	return nil
}

func (c *ExecController) IsAlive(h Handle) bool {
	eh, ok := h.(*execHandle)
	if !ok || eh == nil {
		return false
	}
	select {
	case <-eh.done:
		return false
	default:
		return true
	}
}

func (c *ExecController) RecentLogs(h Handle, n int) []LogLine {
	eh, ok := h.(*execHandle)
	if !ok || eh == nil {
		return nil
	}
	return eh.ring.last(n)
}

// ExitErr returns the process exit error once it has exited.
func (c *ExecController) ExitErr(h Handle) error {
	eh, ok := h.(*execHandle)
	if !ok || eh == nil {
		return nil
	}
	eh.mu.Lock()
	defer eh.mu.Unlock()
	return eh.exitErr
}

// lineRing splits written bytes into lines and keeps the newest ones.
type lineRing struct {
	mu    sync.Mutex
	buf   []byte
	lines []LogLine
	next  int
	full  bool
}

func newLineRing(n int) *lineRing {
	return &lineRing{lines: make([]LogLine, n)}
}

func (r *lineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, p...)
	for {
		i := indexByte(r.buf, '\n')
		if i < 0 {
			break
		}
		r.add(string(r.buf[:i]))
		r.buf = r.buf[i+1:]
	}
	return len(p), nil
}

func (r *lineRing) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) > 0 {
		r.add(string(r.buf))
		r.buf = nil
	}
}

func (r *lineRing) add(s string) {
	s = strings.TrimRight(s, "\r")
	if strings.TrimSpace(s) == "" {
		return
	}
	r.lines[r.next] = LogLine{Level: lineLevel(s), Message: s, Time: time.Now()}
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

// last returns up to n lines, oldest first.
func (r *lineRing) last(n int) []LogLine {
	r.mu.Lock()
	defer r.mu.Unlock()
	size := r.next
	if r.full {
		size = len(r.lines)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]LogLine, 0, n)
	start := (r.next - n + len(r.lines)) % len(r.lines)
	for i := 0; i < n; i++ {
		out = append(out, r.lines[(start+i)%len(r.lines)])
	}
	return out
}

func indexByte(b []byte, c byte) int {
	for i := range b {
		if b[i] == c {
			return i
		}
	}
	return -1
}

// lineLevel infers a level from llama.cpp style output ("E ...", "error: ...").
func lineLevel(s string) string {
	t := strings.TrimSpace(s)
	l := strings.ToLower(t)
	switch {
	case strings.HasPrefix(t, "E "), strings.Contains(l, "error"), strings.Contains(l, "failed"):
		return "error"
	case strings.HasPrefix(t, "W "), strings.Contains(l, "warn"):
		return "warn"
	case strings.HasPrefix(t, "D "):
		return "debug"
	}
	return "info"
}
