package config

import (
	"sync"
	"time"
)

// Source is the configuration the lifecycle core reads. SetSelectedModel is
// the only write and persists an automatically chosen model.
type Source interface {
	SelectedModel() string
	RequestTimeout() time.Duration
	StartupTimeout() time.Duration
	ContextSize() int
	ModelsDir() string
	SetSelectedModel(id string) error
}

// Memory is an in-memory Source.
type Memory struct {
	mu  sync.RWMutex
	cfg Config
}

// NewMemory returns a Memory source holding cfg with defaults applied.
func NewMemory(cfg Config) *Memory { return &Memory{cfg: cfg.ApplyDefaults()} }

func (m *Memory) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Memory) SelectedModel() string         { return m.Config().SelectedModel }
func (m *Memory) RequestTimeout() time.Duration { return m.Config().RequestTimeout.Duration }
func (m *Memory) StartupTimeout() time.Duration { return m.Config().StartupTimeout.Duration }
func (m *Memory) ContextSize() int              { return m.Config().ContextSize }
func (m *Memory) ModelsDir() string             { return m.Config().ModelsDir }

func (m *Memory) SetSelectedModel(id string) error {
	m.mu.Lock()
	m.cfg.SelectedModel = id
	m.mu.Unlock()
	return nil
}

// FileSource is a Source backed by a config file. Values written by the user
// are kept verbatim on disk; defaults only apply in memory.
type FileSource struct {
	path string

	mu  sync.RWMutex
	raw Config
	cfg Config
}

// NewFileSource loads path. A missing file starts from an empty config and is
// created on the first SetSelectedModel.
func NewFileSource(path string) (*FileSource, error) {
	fs := &FileSource{path: path}
	if err := fs.Reload(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Path returns the backing file.
func (f *FileSource) Path() string { return f.path }

// Reload re-reads the file.
func (f *FileSource) Reload() error {
	raw, err := Load(f.path)
	if err != nil {
		if !isNotExist(err) {
			return err
		}
		raw = Config{}
	}
	cfg := raw.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	f.raw, f.cfg = raw, cfg
	f.mu.Unlock()
	return nil
}

func (f *FileSource) Config() Config {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg
}

func (f *FileSource) SelectedModel() string         { return f.Config().SelectedModel }
func (f *FileSource) RequestTimeout() time.Duration { return f.Config().RequestTimeout.Duration }
func (f *FileSource) StartupTimeout() time.Duration { return f.Config().StartupTimeout.Duration }
func (f *FileSource) ContextSize() int              { return f.Config().ContextSize }
func (f *FileSource) ModelsDir() string             { return f.Config().ModelsDir }

// SetSelectedModel updates selected_model and writes the file.
func (f *FileSource) SetSelectedModel(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw := f.raw
	raw.SelectedModel = id
	if err := Save(f.path, raw); err != nil {
		return err
	}
	f.raw = raw
	f.cfg.SelectedModel = id
	return nil
}
