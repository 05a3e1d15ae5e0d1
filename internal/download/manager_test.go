package download

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelhost/internal/assets"
	"modelhost/internal/catalog"
	"modelhost/internal/errs"
	"modelhost/internal/events"
)

type resolver map[string]catalog.ModelDescriptor

func (r resolver) Get(id string) (catalog.ModelDescriptor, bool) {
	d, ok := r[id]
	return d, ok
}

// fileServer serves named blobs with Range support and records request order.
type fileServer struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	fail     map[string]int // status to return
	failOnce map[string]int
	requests []string
	ranges   []string
	srv      *httptest.Server
}

func newFileServer(t *testing.T) *fileServer {
	fs := &fileServer{blobs: map[string][]byte{}, fail: map[string]int{}, failOnce: map[string]int{}}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		fs.mu.Lock()
		fs.requests = append(fs.requests, name)
		fs.ranges = append(fs.ranges, r.Header.Get("Range"))
		code := fs.fail[name]
		if c, ok := fs.failOnce[name]; ok {
			code = c
			delete(fs.failOnce, name)
		}
		b, ok := fs.blobs[name]
		fs.mu.Unlock()
		if code != 0 {
			w.WriteHeader(code)
			return
		}
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(b))
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fileServer) add(name string, n int) []byte {
	b := bytes.Repeat([]byte{byte(len(name))}, n)
	fs.mu.Lock()
	fs.blobs[name] = b
	fs.mu.Unlock()
	return b
}

func (fs *fileServer) url(name string) string { return fs.srv.URL + "/" + name }

func (fs *fileServer) seen() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]string(nil), fs.requests...)
}

func newTestManager(t *testing.T, descs ...catalog.ModelDescriptor) (*Manager, *assets.Store, *events.MemoryPublisher) {
	t.Helper()
	store, err := assets.New(t.TempDir())
	require.NoError(t, err)
	r := resolver{}
	for _, d := range descs {
		r[d.ID] = d
	}
	pub := &events.MemoryPublisher{}
	m := New(Config{
		Catalog:          r,
		Store:            store,
		Publisher:        pub,
		ProgressInterval: time.Millisecond,
		RetryInitial:     time.Millisecond,
		ChunkSize:        64,
	})
	t.Cleanup(m.Close)
	return m, store, pub
}

func waitDone(t *testing.T, m *Manager, id string) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := m.Wait(ctx, id)
	require.NoError(t, err)
	return st.Status
}

func TestOrder(t *testing.T) {
	files := []catalog.FileSpec{
		{Name: "opt", Role: catalog.RoleOther},
		{Name: "cfg", Role: catalog.RoleConfig, Required: true},
		{Name: "proj", Role: catalog.RoleProjector, Required: true},
		{Name: "weights", Role: catalog.RoleModel, Required: true},
		{Name: "tok", Role: catalog.RoleTokenizer, Required: true},
	}
	var names []string
	for _, f := range Order(files) {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"weights", "proj", "cfg", "tok", "opt"}, names)
}

func TestDownloadMultimodalModelFirst(t *testing.T) {
	fs := newFileServer(t)
	fs.add("mmproj.gguf", 300)
	fs.add("model.gguf", 1000)
	fs.add("notes.txt", 10)
	d := catalog.ModelDescriptor{ID: "vl", Name: "VL", Multimodal: true, Files: []catalog.FileSpec{
		{Name: "mmproj.gguf", URL: fs.url("mmproj.gguf"), SizeBytes: 300, Required: true, Role: catalog.RoleProjector},
		{Name: "notes.txt", URL: fs.url("notes.txt"), SizeBytes: 10, Role: catalog.RoleOther},
		{Name: "model.gguf", URL: fs.url("model.gguf"), SizeBytes: 1000, Required: true, Role: catalog.RoleModel},
	}}
	m, store, pub := newTestManager(t, d)

	st, err := m.StartDownload("vl")
	require.NoError(t, err)
	assert.Equal(t, int64(1300), st.TotalBytes)
	assert.NotEmpty(t, st.ID)

	assert.Equal(t, string(StatusCompleted), waitDone(t, m, "vl"))
	assert.Equal(t, []string{"model.gguf", "mmproj.gguf", "notes.txt"}, fs.seen())
	assert.True(t, store.HasRequired(d))
	_, err = os.Stat(store.PartPath("vl", "model.gguf"))
	assert.True(t, os.IsNotExist(err), "part file must be renamed")

	final, ok := m.Task("vl")
	require.True(t, ok)
	assert.Equal(t, int64(1300), final.ReceivedBytes)
	assert.InDelta(t, 100, final.Percent, 0.001)
	assert.False(t, m.IsActive("vl"))
	assert.Len(t, pub.Named(events.DownloadComplete), 1)
	assert.NotEmpty(t, pub.Named(events.DownloadProgress))
}

func TestOptionalFailureKeepsTaskCompleted(t *testing.T) {
	fs := newFileServer(t)
	fs.add("model.gguf", 100)
	d := catalog.ModelDescriptor{ID: "m", Name: "M", Files: []catalog.FileSpec{
		{Name: "model.gguf", URL: fs.url("model.gguf"), SizeBytes: 100, Required: true, Role: catalog.RoleModel},
		{Name: "extra.json", URL: fs.url("extra.json"), SizeBytes: 5, Role: catalog.RoleConfig},
	}}
	m, _, _ := newTestManager(t, d)
	_, err := m.StartDownload("m")
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), waitDone(t, m, "m"))
}

func TestRequiredFailureFailsTask(t *testing.T) {
	fs := newFileServer(t)
	fs.add("model.gguf", 100)
	d := catalog.ModelDescriptor{ID: "m", Name: "M", Files: []catalog.FileSpec{
		{Name: "model.gguf", URL: fs.url("model.gguf"), SizeBytes: 100, Required: true, Role: catalog.RoleModel},
		{Name: "tok.json", URL: fs.url("tok.json"), SizeBytes: 5, Required: true, Role: catalog.RoleTokenizer},
	}}
	m, _, pub := newTestManager(t, d)
	_, err := m.StartDownload("m")
	require.NoError(t, err)
	assert.Equal(t, string(StatusError), waitDone(t, m, "m"))
	errsEv := pub.Named(events.DownloadError)
	require.Len(t, errsEv, 1)
	p := errsEv[0].Payload.(events.DownloadPayload)
	assert.Contains(t, p.Error, "tok.json")
	// 404 is permanent: exactly one request for the missing file.
	n := 0
	for _, r := range fs.seen() {
		if r == "tok.json" {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestTransientErrorIsRetried(t *testing.T) {
	fs := newFileServer(t)
	fs.add("model.gguf", 100)
	fs.failOnce["model.gguf"] = http.StatusServiceUnavailable
	d := catalog.ModelDescriptor{ID: "m", Name: "M", Files: []catalog.FileSpec{
		{Name: "model.gguf", URL: fs.url("model.gguf"), SizeBytes: 100, Required: true, Role: catalog.RoleModel},
	}}
	m, _, _ := newTestManager(t, d)
	_, err := m.StartDownload("m")
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), waitDone(t, m, "m"))
	assert.Len(t, fs.seen(), 2)
}

func TestSkipCompleteFiles(t *testing.T) {
	fs := newFileServer(t)
	d := catalog.ModelDescriptor{ID: "m", Name: "M", Files: []catalog.FileSpec{
		{Name: "model.gguf", URL: fs.url("model.gguf"), SizeBytes: 100, Required: true, Role: catalog.RoleModel},
	}}
	m, store, _ := newTestManager(t, d)
	_, err := store.EnsureModelDir("m")
	require.NoError(t, err)
	// 97 bytes is inside the 5% tolerance.
	require.NoError(t, os.WriteFile(store.FilePath("m", "model.gguf"), make([]byte, 97), 0o644))

	_, err = m.StartDownload("m")
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), waitDone(t, m, "m"))
	assert.Empty(t, fs.seen())
}

func TestResumeFromPartFile(t *testing.T) {
	fs := newFileServer(t)
	blob := fs.add("model.gguf", 1000)
	d := catalog.ModelDescriptor{ID: "m", Name: "M", Files: []catalog.FileSpec{
		{Name: "model.gguf", URL: fs.url("model.gguf"), SizeBytes: 1000, Required: true, Role: catalog.RoleModel},
	}}
	m, store, _ := newTestManager(t, d)
	_, err := store.EnsureModelDir("m")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.PartPath("m", "model.gguf"), blob[:400], 0o644))

	_, err = m.StartDownload("m")
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), waitDone(t, m, "m"))

	fs.mu.Lock()
	assert.Equal(t, []string{"bytes=400-"}, fs.ranges)
	fs.mu.Unlock()
	got, err := os.ReadFile(store.FilePath("m", "model.gguf"))
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}

func TestChecksumMismatchRemovesPart(t *testing.T) {
	fs := newFileServer(t)
	blob := fs.add("model.gguf", 100)
	sum := sha256.Sum256(append(blob[:99:99], 0xff))
	d := catalog.ModelDescriptor{ID: "m", Name: "M", Files: []catalog.FileSpec{
		{Name: "model.gguf", URL: fs.url("model.gguf"), SizeBytes: 100, SHA256: hex.EncodeToString(sum[:]), Required: true, Role: catalog.RoleModel},
	}}
	m, store, _ := newTestManager(t, d)
	_, err := m.StartDownload("m")
	require.NoError(t, err)
	assert.Equal(t, string(StatusError), waitDone(t, m, "m"))
	final, _ := m.Task("m")
	assert.Contains(t, final.Error, string(errs.ChecksumMismatch))
	_, err = os.Stat(store.PartPath("m", "model.gguf"))
	assert.True(t, os.IsNotExist(err))
}

// blockingServer sends half of the body and then stalls until the client
// goes away.
func blockingServer(t *testing.T, size int, started chan<- struct{}) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(size))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(make([]byte, size/2))
		w.(http.Flusher).Flush()
		select {
		case started <- struct{}{}:
		default:
		}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStartDownloadTwiceIsRejected(t *testing.T) {
	started := make(chan struct{}, 1)
	srv := blockingServer(t, 2048, started)
	d := catalog.ModelDescriptor{ID: "m", Name: "M", Files: []catalog.FileSpec{
		{Name: "model.gguf", URL: srv.URL + "/model.gguf", SizeBytes: 2048, Required: true, Role: catalog.RoleModel},
	}}
	m, _, _ := newTestManager(t, d)
	first, err := m.StartDownload("m")
	require.NoError(t, err)
	<-started

	_, err = m.StartDownload("m")
	require.Error(t, err)
	assert.True(t, IsAlreadyDownloading(err))

	active := m.Active()
	require.Len(t, active, 1)
	assert.Equal(t, first.ID, active[0].ID)
	assert.Equal(t, string(StatusDownloading), active[0].Status)

	require.True(t, m.Cancel("m"))
	assert.Equal(t, string(StatusCanceled), waitDone(t, m, "m"))
}

func TestCancelKeepsPartialFile(t *testing.T) {
	started := make(chan struct{}, 1)
	srv := blockingServer(t, 2048, started)
	d := catalog.ModelDescriptor{ID: "m", Name: "M", Files: []catalog.FileSpec{
		{Name: "model.gguf", URL: srv.URL + "/model.gguf", SizeBytes: 2048, Required: true, Role: catalog.RoleModel},
	}}
	m, store, pub := newTestManager(t, d)
	_, err := m.StartDownload("m")
	require.NoError(t, err)
	<-started
	require.Eventually(t, func() bool {
		st, _ := m.Task("m")
		return st.ReceivedBytes == 1024
	}, 5*time.Second, 5*time.Millisecond)

	require.True(t, m.Cancel("m"))
	assert.Equal(t, string(StatusCanceled), waitDone(t, m, "m"))
	assert.Len(t, pub.Named(events.DownloadCanceled), 1)

	fi, err := os.Stat(store.PartPath("m", "model.gguf"))
	require.NoError(t, err)
	assert.Equal(t, int64(1024), fi.Size())
	assert.False(t, m.Cancel("m"))
}

func TestUnknownModel(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.StartDownload("ghost")
	assert.True(t, errs.Is(err, errs.ModelNotFound))
	_, err = m.Wait(context.Background(), "ghost")
	assert.Error(t, err)
}

// slowFetcher serves size zero bytes in chunks of chunk, pausing between reads.
type slowFetcher struct {
	size, chunk int
	pause       time.Duration
}

func (f slowFetcher) Fetch(ctx context.Context, url string, offset int64) (*Stream, error) {
	return &Stream{Body: &slowBody{ctx: ctx, left: f.size - int(offset), chunk: f.chunk, pause: f.pause}, Offset: offset, Size: int64(f.size)}, nil
}

type slowBody struct {
	ctx   context.Context
	left  int
	chunk int
	pause time.Duration
}

func (b *slowBody) Read(p []byte) (int, error) {
	if b.left == 0 {
		return 0, io.EOF
	}
	select {
	case <-time.After(b.pause):
	case <-b.ctx.Done():
		return 0, b.ctx.Err()
	}
	n := min(b.chunk, b.left, len(p))
	clear(p[:n])
	b.left -= n
	return n, nil
}

func (b *slowBody) Close() error { return nil }

func TestProgressEventsAreThrottled(t *testing.T) {
	store, err := assets.New(t.TempDir())
	require.NoError(t, err)
	d := catalog.ModelDescriptor{ID: "m", Name: "M", Files: []catalog.FileSpec{
		{Name: "model.gguf", URL: "http://models.invalid/model.gguf", SizeBytes: 6400, Required: true, Role: catalog.RoleModel},
	}}
	pub := &events.MemoryPublisher{}
	m := New(Config{
		Catalog:   resolver{"m": d},
		Store:     store,
		Publisher: pub,
		Fetcher:   slowFetcher{size: 6400, chunk: 64, pause: 12 * time.Millisecond},
		ChunkSize: 64,
	})
	t.Cleanup(m.Close)

	began := time.Now()
	_, err = m.StartDownload("m")
	require.NoError(t, err)
	require.Equal(t, string(StatusCompleted), waitDone(t, m, "m"))
	elapsed := time.Since(began)

	progress := pub.Named(events.DownloadProgress)
	require.GreaterOrEqual(t, len(progress), 2, "a download longer than the interval reports more than once")
	limit := 1 + int(elapsed/(500*time.Millisecond))
	assert.LessOrEqual(t, len(progress), limit, "%d progress events in %s", len(progress), elapsed)
	for i := 1; i < len(progress); i++ {
		gap := progress[i].Time.Sub(progress[i-1].Time)
		assert.GreaterOrEqual(t, gap, 450*time.Millisecond, "event %d came %s after the previous one", i, gap)
	}
}
