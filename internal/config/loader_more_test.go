package config

import (
	"testing"
	"time"
)

func TestLoadRejectsMalformedFiles(t *testing.T) {
	d := t.TempDir()
	cases := map[string]string{
		"bad.yaml":     "addr: :7373\n: broken\n",
		"bad.json":     `{ "addr": ":7373", "models_dir": }`,
		"bad.toml":     "addr=:7373\nmodels_dir\n",
		"timeout.yaml": "request_timeout: soon\n",
	}
	for name, body := range cases {
		if _, err := Load(writeTempFile(t, d, name, body)); err == nil {
			t.Fatalf("%s: expected decode error", name)
		}
	}
	if _, err := Load("/definitely/not/a/real/file-12345.yaml"); err == nil {
		t.Fatalf("expected error for nonexistent file")
	}
}

func TestDurationAcceptsGoSyntax(t *testing.T) {
	p := writeTempFile(t, t.TempDir(), "d.yaml", "request_timeout: 90s\nstatus_interval: 250ms\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RequestTimeout.Duration != 90*time.Second || cfg.StatusInterval.Duration != 250*time.Millisecond {
		t.Fatalf("durations = %s, %s", cfg.RequestTimeout, cfg.StatusInterval)
	}
}
