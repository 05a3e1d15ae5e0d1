//go:build integration

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"modelhost/internal/app"
	"modelhost/internal/config"
	"modelhost/internal/hardware"
	"modelhost/internal/httpapi"
	"modelhost/pkg/types"
)

const tinySize = 8192

func buildFakeEngine(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "fake_engine")
	cmd := exec.Command("go", "build", "-o", bin, "../engine/testdata/fake_engine.go")
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("build fake engine: %v: %s", err, out)
	}
	return bin
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func writeCatalog(t *testing.T, fileURL string) string {
	t.Helper()
	body := fmt.Sprintf(`recommended: [tiny]
models:
  - id: tiny
    name: Tiny Test Model
    parameters: 0.1B
    capabilities:
      - type: text
        extensions: [.txt, .md]
        quality: medium
        primary: true
    files:
      - name: tiny.gguf
        url: %s/tiny.gguf
        size_bytes: %d
        required: true
        role: model
`, fileURL, tinySize)
	p := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// newStack wires the whole service behind an httptest server, with a file
// server standing in for the model host and the fake engine binary.
func newStack(t *testing.T) (*httptest.Server, *app.App) {
	t.Helper()
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "tiny.gguf", time.Time{}, bytes.NewReader(make([]byte, tinySize)))
	}))
	t.Cleanup(files.Close)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	src, err := config.NewFileSource(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Config{
		ModelsDir:      filepath.Join(dir, "models"),
		CatalogFile:    writeCatalog(t, files.URL),
		EngineBin:      buildFakeEngine(t),
		EnginePort:     freePort(t),
		StartupTimeout: config.Duration{Duration: 10 * time.Second},
		HealthInterval: config.Duration{Duration: 50 * time.Millisecond},
		StatusInterval: config.Duration{Duration: 20 * time.Millisecond},
	}
	a, err := app.New(app.Options{Config: cfg, Settings: src, Hardware: hardware.Static{CPUs: 2, TotalRAMMB: 4096}})
	if err != nil {
		t.Fatalf("app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	srv := httptest.NewServer(httpapi.NewMux(a))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = a.Close()
	})
	return srv, a
}

func httpDo(t *testing.T, method, url string, payload any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, rd)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func getStatus(t *testing.T, base string) types.StatusResponse {
	t.Helper()
	_, body := httpDo(t, http.MethodGet, base+"/status", nil)
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("status json: %v (%s)", err, body)
	}
	return st
}

func waitStatus(t *testing.T, base, want string, timeout time.Duration) types.StatusResponse {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		st := getStatus(t, base)
		if st.Status == want {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("status %q not reached, last=%+v", want, st)
		}
		time.Sleep(25 * time.Millisecond)
	}
}
