package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMemorySource(t *testing.T) {
	m := NewMemory(Config{ModelsDir: "/models"})
	if m.RequestTimeout() != DefaultRequestTimeout || m.ModelsDir() != "/models" || m.ContextSize() != DefaultContextSize {
		t.Fatalf("unexpected: %+v", m.Config())
	}
	if err := m.SetSelectedModel("a"); err != nil || m.SelectedModel() != "a" {
		t.Fatalf("set selected: %v %q", err, m.SelectedModel())
	}
}

func TestFileSourcePersistsSelection(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "modelhost.yaml", "models_dir: /models\nlog_level: debug\n")
	fs, err := NewFileSource(p)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if fs.SelectedModel() != "" || fs.StartupTimeout() != DefaultStartupTimeout {
		t.Fatalf("unexpected: %+v", fs.Config())
	}
	if err := fs.SetSelectedModel("qwen2.5-3b"); err != nil {
		t.Fatalf("set: %v", err)
	}
	raw, err := Load(p)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if raw.SelectedModel != "qwen2.5-3b" || raw.LogLevel != "debug" || raw.ModelsDir != "/models" {
		t.Fatalf("file content: %+v", raw)
	}
	if raw.RequestTimeout.Duration != 0 || raw.Addr != "" {
		t.Fatalf("defaults leaked into file: %+v", raw)
	}
}

func TestFileSourceMissingFileIsCreated(t *testing.T) {
	p := filepath.Join(t.TempDir(), "new.json")
	fs, err := NewFileSource(p)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := fs.SetSelectedModel("m"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("file not created: %v", err)
	}
}

func TestFileSourceRejectsInvalid(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "c.yaml", "mode: remote\n")
	if _, err := NewFileSource(p); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "c.yaml", "selected_model: a\n")
	fs, err := NewFileSource(p)
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan Config, 4)
	w := &Watcher{Source: fs, Debounce: 20 * time.Millisecond, Logger: zerolog.Nop(), OnChange: func(prev, next Config) {
		got <- next
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	writeTempFile(t, d, "c.yaml", "selected_model: b\n")
	writeTempFile(t, d, "other.yaml", "ignored: true\n")

	select {
	case next := <-got:
		if next.SelectedModel != "b" {
			t.Fatalf("selected = %q", next.SelectedModel)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no reload observed")
	}
	if fs.SelectedModel() != "b" {
		t.Fatalf("source not reloaded")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}
