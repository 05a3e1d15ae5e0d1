package manager

import (
	"os"
	"os/exec"
)

// SanityReport describes runtime checks for external dependencies.
type SanityReport struct {
	EngineFound       bool   `json:"engine_found"`
	EnginePath        string `json:"engine_path,omitempty"`
	ModelsDir         string `json:"models_dir,omitempty"`
	ModelsDirWritable bool   `json:"models_dir_writable"`
	Error             string `json:"error,omitempty"`
}

// SanityCheck validates that the engine binary is available and the models
// dir can be written. It does not mutate state and is safe to call at any
// time.
func (m *Manager) SanityCheck() SanityReport {
	r := SanityReport{ModelsDir: m.cfg.ModelsDir}
	if m.cfg.EngineBin != "" {
		if p, err := exec.LookPath(m.cfg.EngineBin); err == nil {
			r.EngineFound = true
			r.EnginePath = p
		} else {
			r.EnginePath = m.cfg.EngineBin
			r.Error = err.Error()
		}
	} else {
		r.Error = "engine binary not configured"
	}
	if r.ModelsDir == "" {
		return r
	}
	if err := os.MkdirAll(r.ModelsDir, 0o755); err != nil {
		if r.Error == "" {
			r.Error = err.Error()
		}
		return r
	}
	f, err := os.CreateTemp(r.ModelsDir, ".probe-*")
	if err != nil {
		if r.Error == "" {
			r.Error = err.Error()
		}
		return r
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	r.ModelsDirWritable = true
	return r
}
