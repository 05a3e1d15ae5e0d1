// Package download fetches model files into the asset store. Each model has
// at most one active task; tasks for different models run concurrently.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"modelhost/internal/assets"
	"modelhost/internal/catalog"
	"modelhost/internal/errs"
	"modelhost/internal/events"
	"modelhost/internal/metrics"
	"modelhost/pkg/types"
)

// Status of a download task.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusCanceled    Status = "canceled"
)

// Resolver looks up model descriptors.
type Resolver interface {
	Get(id string) (catalog.ModelDescriptor, bool)
}

// Config configures a Manager.
type Config struct {
	Catalog   Resolver
	Store     *assets.Store
	Fetcher   Fetcher
	Publisher events.Publisher
	Logger    zerolog.Logger

	// ProgressInterval bounds download-progress events per task. Default 500ms.
	ProgressInterval time.Duration
	// MaxTries per file for transient errors. Default 3.
	MaxTries uint
	// RetryInitial is the first backoff delay. Default 1s.
	RetryInitial time.Duration
	// ChunkSize is the read buffer size. Default 256 KiB.
	ChunkSize int
}

// Manager owns the active-task map.
type Manager struct {
	cfg Config
	log zerolog.Logger
	pub events.Publisher

	mu       sync.Mutex
	active   map[string]*task
	finished map[string]types.DownloadStatus
	wg       sync.WaitGroup
}

// New constructs a Manager. Catalog and Store are required.
func New(cfg Config) *Manager {
	if cfg.Fetcher == nil {
		cfg.Fetcher = NewHTTPFetcher()
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = 500 * time.Millisecond
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = time.Second
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 256 << 10
	}
	return &Manager{
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "download").Logger(),
		pub:      events.OrNoop(cfg.Publisher),
		active:   make(map[string]*task),
		finished: make(map[string]types.DownloadStatus),
	}
}

// task is mutated only by its own download loop; readers take mu.
type task struct {
	id      string
	modelID string
	dir     string
	files   []catalog.FileSpec

	cancel context.CancelFunc
	done   chan struct{}
	every  rate.Sometimes

	mu        sync.Mutex
	status    Status
	current   string
	progress  map[string]int64
	required  map[string]bool
	received  int64
	total     int64
	startedAt time.Time
	endedAt   time.Time
	lastErr   string
}

func (t *task) snapshot() types.DownloadStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	files := make(map[string]int64, len(t.progress))
	for k, v := range t.progress {
		files[k] = v
	}
	st := types.DownloadStatus{
		ID:            t.id,
		ModelID:       t.modelID,
		Status:        string(t.status),
		CurrentFile:   t.current,
		ReceivedBytes: t.received,
		TotalBytes:    t.total,
		Percent:       percent(t.received, t.total),
		Files:         files,
		StartedAt:     t.startedAt.Unix(),
		Error:         t.lastErr,
	}
	if !t.endedAt.IsZero() {
		st.EndedAt = t.endedAt.Unix()
	}
	return st
}

func (t *task) setProgress(name string, n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.progress[name]
	t.progress[name] = n
	if t.required[name] {
		t.received += n - prev
	}
}

func (t *task) setCurrent(name string) {
	t.mu.Lock()
	t.current = name
	t.status = StatusDownloading
	t.mu.Unlock()
}

func percent(received, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(received) / float64(total) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// StartDownload creates a task for modelID and starts fetching in the
// background. It fails with AlreadyDownloading when a task is active.
func (m *Manager) StartDownload(modelID string) (types.DownloadStatus, error) {
	desc, ok := m.cfg.Catalog.Get(modelID)
	if !ok {
		return types.DownloadStatus{}, errs.New(errs.ModelNotFound, "unknown model %q", modelID)
	}

	m.mu.Lock()
	if t, busy := m.active[modelID]; busy {
		m.mu.Unlock()
		return types.DownloadStatus{}, errs.New(errs.AlreadyDownloading, "model %s is already downloading (task %s)", modelID, t.id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		id:        uuid.NewString(),
		modelID:   modelID,
		dir:       m.cfg.Store.ModelDir(modelID),
		files:     Order(desc.Files),
		cancel:    cancel,
		done:      make(chan struct{}),
		every:     rate.Sometimes{Interval: m.cfg.ProgressInterval},
		status:    StatusPending,
		progress:  make(map[string]int64, len(desc.Files)),
		required:  make(map[string]bool, len(desc.Files)),
		total:     desc.RequiredBytes(),
		startedAt: time.Now(),
	}
	for _, f := range desc.Files {
		t.required[f.Name] = f.Required
	}
	m.active[modelID] = t
	m.wg.Add(1)
	m.mu.Unlock()

	metrics.DownloadsActive.Inc()
	m.log.Info().Str("model", modelID).Str("task", t.id).Int("files", len(t.files)).
		Str("total", humanize.IBytes(uint64(t.total))).Msg("download_start")

	snap := t.snapshot()
	go m.run(ctx, t)
	return snap, nil
}

// Cancel aborts the active task for modelID. Partial files are kept so the
// next attempt resumes. Returns false when nothing was active.
func (m *Manager) Cancel(modelID string) bool {
	m.mu.Lock()
	t := m.active[modelID]
	m.mu.Unlock()
	if t == nil {
		return false
	}
	t.cancel()
	return true
}

// Active lists in-flight tasks ordered by model id.
func (m *Manager) Active() []types.DownloadStatus {
	m.mu.Lock()
	ts := make([]*task, 0, len(m.active))
	for _, t := range m.active {
		ts = append(ts, t)
	}
	m.mu.Unlock()
	out := make([]types.DownloadStatus, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// Task returns the active task for modelID, or the last finished one.
func (m *Manager) Task(modelID string) (types.DownloadStatus, bool) {
	m.mu.Lock()
	t := m.active[modelID]
	last, hasLast := m.finished[modelID]
	m.mu.Unlock()
	if t != nil {
		return t.snapshot(), true
	}
	return last, hasLast
}

// IsActive reports whether modelID has an in-flight task.
func (m *Manager) IsActive(modelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[modelID]
	return ok
}

// Wait blocks until the task for modelID finishes and returns its final
// state. If no task is active the last finished state is returned.
func (m *Manager) Wait(ctx context.Context, modelID string) (types.DownloadStatus, error) {
	m.mu.Lock()
	t := m.active[modelID]
	last, hasLast := m.finished[modelID]
	m.mu.Unlock()
	if t == nil {
		if !hasLast {
			return types.DownloadStatus{}, errs.New(errs.ModelNotFound, "no download for %s", modelID)
		}
		return last, nil
	}
	select {
	case <-t.done:
		return t.snapshot(), nil
	case <-ctx.Done():
		return types.DownloadStatus{}, ctx.Err()
	}
}

// Close cancels every task and waits for the loops to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	for _, t := range m.active {
		t.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, t *task) {
	defer m.wg.Done()
	defer t.cancel()

	if _, err := m.cfg.Store.EnsureModelDir(t.modelID); err != nil {
		m.finish(t, StatusError, fmt.Errorf("create %s: %w", t.dir, err))
		return
	}
	for _, f := range t.files {
		if ctx.Err() != nil {
			m.finish(t, StatusCanceled, nil)
			return
		}
		err := m.fetchFile(ctx, t, f)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			m.finish(t, StatusCanceled, nil)
			return
		}
		if f.Required {
			m.finish(t, StatusError, fmt.Errorf("%s: %w", f.Name, err))
			return
		}
		m.log.Warn().Str("model", t.modelID).Str("file", f.Name).Err(err).Msg("download_optional_failed")
	}
	m.finish(t, StatusCompleted, nil)
}

// finish records the terminal state, emits the terminal event and only then
// removes the task from the active map.
func (m *Manager) finish(t *task, st Status, cause error) {
	t.mu.Lock()
	t.status = st
	t.current = ""
	t.endedAt = time.Now()
	if cause != nil {
		t.lastErr = cause.Error()
	}
	t.mu.Unlock()

	snap := t.snapshot()
	name, lvl := events.DownloadComplete, zerolog.InfoLevel
	switch st {
	case StatusError:
		name, lvl = events.DownloadError, zerolog.ErrorLevel
	case StatusCanceled:
		name = events.DownloadCanceled
	}
	m.log.WithLevel(lvl).Err(cause).Str("model", t.modelID).Str("task", t.id).Str("status", string(st)).
		Str("received", humanize.IBytes(uint64(snap.ReceivedBytes))).
		Dur("elapsed", t.endedAt.Sub(t.startedAt)).Msg("download_finish")
	m.pub.Publish(events.New(name, t.modelID, payload(snap)))
	metrics.Downloads.WithLabelValues(string(st)).Inc()
	metrics.DownloadsActive.Dec()

	m.mu.Lock()
	delete(m.active, t.modelID)
	m.finished[t.modelID] = snap
	m.mu.Unlock()
	close(t.done)
}

func payload(s types.DownloadStatus) events.DownloadPayload {
	return events.DownloadPayload{
		TaskID:        s.ID,
		ModelID:       s.ModelID,
		Status:        s.Status,
		CurrentFile:   s.CurrentFile,
		ReceivedBytes: s.ReceivedBytes,
		TotalBytes:    s.TotalBytes,
		Percent:       s.Percent,
		Files:         s.Files,
		Error:         s.Error,
	}
}

func (m *Manager) progress(t *task) {
	t.every.Do(func() {
		m.pub.Publish(events.New(events.DownloadProgress, t.modelID, payload(t.snapshot())))
	})
}

// fetchFile brings one file to completion: skip when already complete,
// otherwise stream into <file>.part with retries, verify and rename.
func (m *Manager) fetchFile(ctx context.Context, t *task, f catalog.FileSpec) error {
	dst := m.cfg.Store.FilePath(t.modelID, f.Name)
	st := m.cfg.Store.FileState(t.modelID, f)
	if st.Complete {
		t.setProgress(f.Name, st.Actual)
		m.log.Debug().Str("model", t.modelID).Str("file", f.Name).Int64("size", st.Actual).Msg("download_file_skip")
		m.progress(t)
		return nil
	}
	t.setCurrent(f.Name)
	m.log.Info().Str("model", t.modelID).Str("file", f.Name).Str("role", string(f.Role)).
		Str("size", humanize.IBytes(uint64(f.SizeBytes))).Msg("download_file_start")

	part := dst + assets.PartSuffix
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.RetryInitial
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := m.stream(ctx, t, f, part)
		if err == nil {
			return struct{}{}, nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		m.log.Warn().Str("model", t.modelID).Str("file", f.Name).Err(err).Msg("download_file_retry")
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(m.cfg.MaxTries))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errs.CodeOf(err) != "" {
			return err
		}
		return errs.Wrap(err, errs.DownloadFailed, "fetch "+f.Name)
	}

	if err := assets.VerifyFile(part, f.SHA256); err != nil {
		if errs.Is(err, errs.ChecksumMismatch) {
			_ = os.Remove(part)
		}
		return err
	}
	if err := os.Rename(part, dst); err != nil {
		return errs.Wrap(err, errs.DownloadFailed, "rename "+f.Name)
	}
	m.log.Info().Str("model", t.modelID).Str("file", f.Name).Msg("download_file_done")
	return nil
}

// stream performs one transfer attempt, resuming from the part file.
func (m *Manager) stream(ctx context.Context, t *task, f catalog.FileSpec, part string) error {
	var offset int64
	if fi, err := os.Stat(part); err == nil {
		offset = fi.Size()
	}
	if f.SizeBytes > 0 && offset >= f.SizeBytes && assets.WithinTolerance(offset, f.SizeBytes) {
		t.setProgress(f.Name, offset)
		return nil
	}

	s, err := m.cfg.Fetcher.Fetch(ctx, f.URL, offset)
	if errors.Is(err, ErrRangeNotSatisfiable) {
		// The part file does not match the remote; start over.
		offset = 0
		if err = os.Truncate(part, 0); err != nil && !os.IsNotExist(err) {
			return err
		}
		s, err = m.cfg.Fetcher.Fetch(ctx, f.URL, 0)
	}
	if err != nil {
		return err
	}
	defer s.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if s.Offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return err
	}
	written := s.Offset
	t.setProgress(f.Name, written)
	if s.Offset > 0 {
		m.log.Info().Str("model", t.modelID).Str("file", f.Name).Int64("offset", s.Offset).Msg("download_file_resume")
	}

	buf := make([]byte, m.cfg.ChunkSize)
	for {
		n, rerr := s.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				return werr
			}
			written += int64(n)
			metrics.DownloadBytes.Add(float64(n))
			t.setProgress(f.Name, written)
			m.progress(t)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			return rerr
		}
	}
	if err := out.Close(); err != nil {
		return err
	}
	want := f.SizeBytes
	if want <= 0 && s.Size > 0 {
		want = s.Size
	}
	if want > 0 && !assets.WithinTolerance(written, want) {
		return fmt.Errorf("short transfer: got %d of %d bytes", written, want)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	if errs.CodeOf(err) != "" {
		return false
	}
	var pe *os.PathError
	if errors.As(err, &pe) {
		return false
	}
	return true
}

// IsAlreadyDownloading reports whether err is a duplicate-start rejection.
func IsAlreadyDownloading(err error) bool { return errs.Is(err, errs.AlreadyDownloading) }
