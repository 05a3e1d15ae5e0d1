package app

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelhost/internal/config"
	"modelhost/internal/errs"
	"modelhost/internal/hardware"
	"modelhost/internal/manager"
	"modelhost/pkg/types"
)

const tinySize = 4096

func tinyCatalog(t *testing.T, url string) string {
	t.Helper()
	body := fmt.Sprintf(`recommended: [tiny]
models:
  - id: tiny
    name: Tiny Test Model
    parameters: 0.1B
    capabilities:
      - type: text
        extensions: [.txt, .md]
        quality: low
        primary: true
    files:
      - name: tiny.gguf
        url: %s/tiny.gguf
        size_bytes: %d
        required: true
        role: model
`, url, tinySize)
	p := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "tiny.gguf", time.Time{}, bytes.NewReader(make([]byte, tinySize)))
	}))
	t.Cleanup(srv.Close)

	a, err := New(Options{
		Config: config.Config{
			ModelsDir:      filepath.Join(t.TempDir(), "models"),
			CatalogFile:    tinyCatalog(t, srv.URL),
			EngineBin:      "modelhost-test-engine-that-does-not-exist",
			StatusInterval: config.Duration{Duration: 10 * time.Millisecond},
		},
		Hardware: hardware.Static{CPUs: 4, TotalRAMMB: 8192},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Options{Config: config.Config{Mode: "cloud"}})
	require.Error(t, err)
}

func TestFreshInstallThenDownloadReinitializes(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.Start(ctx)

	require.NoError(t, a.EnsureReady(ctx))
	snap := a.Manager.Snapshot()
	assert.Equal(t, manager.StatusNotDownloaded, snap.Status)
	assert.Nil(t, snap.ModelName())

	models := a.ListModels()
	require.NotEmpty(t, models)
	assert.Equal(t, "tiny", models[0].ID)
	assert.False(t, models[0].Downloaded)
	assert.Equal(t, []string{"tiny.gguf"}, models[0].Missing)

	m := a.MatchFileType(ctx, "", ".txt")
	assert.False(t, m.Supported)
	assert.Equal(t, string(errs.NoModelSelected), m.Reason)

	_, err := a.StartDownload("tiny")
	require.NoError(t, err)

	// The engine binary is missing, so the reinitialized service ends up
	// usable but degraded on the newly downloaded model.
	require.Eventually(t, func() bool {
		s := a.Manager.Snapshot()
		return s.ModelID == "tiny" && s.Status == manager.StatusDegraded
	}, 4*time.Second, 10*time.Millisecond)

	assert.True(t, a.ListModels()[0].Downloaded)
	assert.Equal(t, "tiny", a.settings.SelectedModel(), "auto-selected model is persisted")

	m = a.MatchFileType(ctx, "", ".md")
	assert.True(t, m.Supported)
	caps, err := a.Capabilities(ctx)
	require.NoError(t, err)
	assert.Equal(t, "local:tiny", caps.Key)
	assert.True(t, caps.SupportsText)
	assert.False(t, caps.SupportsImage)

	require.Eventually(t, func() bool {
		s := a.Status()
		return s.Available && s.Hardware != nil && s.Status == "degraded"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInferBeforeEnsureIsNotReady(t *testing.T) {
	a := newTestApp(t)
	_, err := a.Infer(context.Background(), types.InferRequest{Prompt: "hello"})
	assert.True(t, manager.IsNotReady(err), "got %v", err)
	assert.False(t, a.Ready())
}

func TestCancelDownloadWithoutTask(t *testing.T) {
	a := newTestApp(t)
	assert.False(t, a.CancelDownload("tiny"))
	assert.Empty(t, a.Downloads())
}

func TestRemoveActiveModelReinitializes(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.Start(ctx)
	require.NoError(t, a.EnsureReady(ctx))

	_, err := a.StartDownload("tiny")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s := a.Manager.Snapshot()
		return s.ModelID == "tiny" && s.Status == manager.StatusDegraded
	}, 4*time.Second, 10*time.Millisecond)

	require.NoError(t, a.RemoveModel(ctx, "tiny"))
	assert.False(t, a.ListModels()[0].Downloaded)
	assert.NoDirExists(t, a.Store.ModelDir("tiny"))
	assert.Equal(t, manager.StatusNotDownloaded, a.Manager.Snapshot().Status)
}

func TestRemoveModelRejectsUnknownIDs(t *testing.T) {
	a := newTestApp(t)
	keep := filepath.Join(filepath.Dir(a.Store.Dir()), "keep.txt")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))
	for _, id := range []string{"nope", "..", ".", "../models"} {
		err := a.RemoveModel(context.Background(), id)
		assert.True(t, errs.Is(err, errs.ModelNotFound), "RemoveModel(%q) = %v", id, err)
	}
	assert.FileExists(t, keep)
}
