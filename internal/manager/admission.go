package manager

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"modelhost/internal/errs"
)

// admitFile rejects attachments the active model cannot process, carrying
// the detector's reason code (RuntimeUnavailable stays distinct).
func (m *Manager) admitFile(ctx context.Context, modelID, path string) error {
	if m.cfg.Capabilities == nil {
		return nil
	}
	ext := filepath.Ext(path)
	match := m.cfg.Capabilities.MatchFileType(ctx, modelID, ext)
	if match.Supported {
		return nil
	}
	code := errs.Code(match.Reason)
	if code == "" {
		code = errs.UnsupportedFileType
	}
	return errs.New(code, "%s: %s", match.Extension, strings.Join(match.Limitations, "; "))
}

// beginGeneration reserves a queue slot and then the single in-flight slot.
// Returns a release func to be deferred. A full queue or a deadline spent
// waiting yields TooBusy.
func (m *Manager) beginGeneration(ctx context.Context) (func(), error) {
	select {
	case m.queueCh <- struct{}{}:
	default:
		return func() {}, errs.New(errs.TooBusy, "inference queue is full (%d waiting)", cap(m.queueCh))
	}

	select {
	case m.genCh <- struct{}{}:
		return func() { <-m.genCh; <-m.queueCh }, nil
	case <-ctx.Done():
		<-m.queueCh
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return func() {}, errs.Wrap(ctx.Err(), errs.TooBusy, "timed out waiting for the engine")
		}
		return func() {}, ctx.Err()
	}
}
