// Package engine supervises the inference server subprocess: it resolves
// launch parameters, spawns the process, polls its health endpoint with a
// bounded budget and diagnoses startup failures from the process logs.
package engine

import (
	"fmt"
	"math"
	"net"
	"runtime"
	"strconv"
	"time"
)

// AutoGPULayers lets the engine decide how many layers to offload.
const AutoGPULayers = -1

// EngineConfig holds resolved launch parameters. It is built fresh for each
// start attempt and never mutated afterwards.
type EngineConfig struct {
	ModelID       string
	ModelPath     string
	ProjectorPath string
	Binary        string
	Host          string
	Port          int
	Threads       int
	ContextSize   int
	BatchSize     int
	GPULayers     int
	ExtraArgs     []string

	StartupTimeout time.Duration
	HealthInterval time.Duration
	RequestTimeout time.Duration
}

// BaseURL is the engine's HTTP root.
func (c EngineConfig) BaseURL() string {
	return "http://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Retries is the number of health polls: ceil(StartupTimeout/HealthInterval).
func (c EngineConfig) Retries() int {
	if c.HealthInterval <= 0 || c.StartupTimeout <= 0 {
		return 1
	}
	n := int(math.Ceil(float64(c.StartupTimeout) / float64(c.HealthInterval)))
	if n < 1 {
		n = 1
	}
	return n
}

// Args builds the llama-server style command line.
func (c EngineConfig) Args() []string {
	args := []string{
		"-m", c.ModelPath,
		"--host", c.Host,
		"--port", strconv.Itoa(c.Port),
	}
	if c.ProjectorPath != "" {
		args = append(args, "--mmproj", c.ProjectorPath)
	}
	if c.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(c.Threads))
	}
	if c.ContextSize > 0 {
		args = append(args, "-c", strconv.Itoa(c.ContextSize))
	}
	if c.BatchSize > 0 {
		args = append(args, "-b", strconv.Itoa(c.BatchSize))
	}
	if c.GPULayers >= 0 {
		args = append(args, "-ngl", strconv.Itoa(c.GPULayers))
	}
	return append(args, c.ExtraArgs...)
}

// DefaultThreads is clamp(NumCPU, 2, 8).
func DefaultThreads() int {
	return clampInt(runtime.NumCPU(), 2, 8)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected addr: %s", l.Addr())
	}
	return addr.Port, nil
}
