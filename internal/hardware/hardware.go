// Package hardware queries host memory and GPU information for status
// display and capability estimates.
package hardware

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"modelhost/pkg/types"
)

// Info describes the host.
type Info struct {
	CPUs        int
	TotalRAMMB  int
	FreeRAMMB   int
	TotalVRAMMB int
	GPUName     string
}

// Summary converts Info into the API payload.
func (i Info) Summary() *types.HardwareSummary {
	return &types.HardwareSummary{CPUs: i.CPUs, TotalRAMMB: i.TotalRAMMB, TotalVRAMMB: i.TotalVRAMMB}
}

// Prober returns host information.
type Prober interface {
	Probe(ctx context.Context) (Info, error)
}

// System probes the local machine. GPU memory comes from nvidia-smi when it
// is on PATH; absent tools leave the VRAM fields zero.
type System struct {
	// SMIPath overrides the nvidia-smi binary. Empty means look it up.
	SMIPath string
}

func (s System) Probe(ctx context.Context) (Info, error) {
	info := Info{CPUs: runtime.NumCPU()}
	total, free, err := memory()
	if err != nil {
		return info, err
	}
	info.TotalRAMMB, info.FreeRAMMB = total, free
	if mb, name, ok := s.nvidia(ctx); ok {
		info.TotalVRAMMB, info.GPUName = mb, name
	}
	return info, nil
}

func (s System) nvidia(ctx context.Context) (int, string, bool) {
	bin := s.SMIPath
	if bin == "" {
		p, err := exec.LookPath("nvidia-smi")
		if err != nil {
			return 0, "", false
		}
		bin = p
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin, "--query-gpu=memory.total,name", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return 0, "", false
	}
	return parseSMI(out)
}

// parseSMI sums memory across GPUs and reports the first GPU's name.
func parseSMI(out []byte) (int, string, bool) {
	var total int
	var name string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		parts := strings.SplitN(sc.Text(), ",", 2)
		mb, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			continue
		}
		total += mb
		if name == "" && len(parts) == 2 {
			name = strings.TrimSpace(parts[1])
		}
	}
	return total, name, total > 0
}

// Static is a fixed Prober for tests and for hosts where probing is disabled.
type Static Info

func (s Static) Probe(context.Context) (Info, error) { return Info(s), nil }
