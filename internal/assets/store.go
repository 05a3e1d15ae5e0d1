// Package assets resolves where model files live on disk and answers
// whether they are present and complete. Layout: <baseDir>/<modelId>/<fileName>.
package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"modelhost/internal/catalog"
	"modelhost/internal/common/fsutil"
	"modelhost/internal/errs"
)

// SizeTolerance is the relative size difference under which an on-disk file
// is considered complete without hashing.
const SizeTolerance = 0.05

// PartSuffix marks an in-progress download next to its final path.
const PartSuffix = ".part"

// Store is a filesystem layout resolver and existence checker.
type Store struct {
	baseDir string
}

// New returns a Store rooted at baseDir. An empty baseDir falls back to
// <app-data>/models.
func New(baseDir string) (*Store, error) {
	dir, err := fsutil.ResolveDir(baseDir, "models")
	if err != nil {
		return nil, errs.Wrap(err, errs.InvalidConfig, "resolve models dir")
	}
	return &Store{baseDir: filepath.Clean(dir)}, nil
}

// Dir returns the base directory.
func (s *Store) Dir() string { return s.baseDir }

// ModelDir returns <baseDir>/<modelID>.
func (s *Store) ModelDir(modelID string) string {
	return filepath.Join(s.baseDir, modelID)
}

// FilePath returns <baseDir>/<modelID>/<fileName>.
func (s *Store) FilePath(modelID, fileName string) string {
	return filepath.Join(s.baseDir, modelID, fileName)
}

// PartPath returns the temporary path used while fileName downloads.
func (s *Store) PartPath(modelID, fileName string) string {
	return s.FilePath(modelID, fileName) + PartSuffix
}

// WithinTolerance reports whether actual is close enough to expected.
// An undeclared size (<=0) accepts any non-empty file.
func WithinTolerance(actual, expected int64) bool {
	if expected <= 0 {
		return actual > 0
	}
	diff := math.Abs(float64(actual - expected))
	return diff <= float64(expected)*SizeTolerance
}

// FileState is the on-disk state of one descriptor file.
type FileState struct {
	Name     string       `json:"name"`
	Role     catalog.Role `json:"role"`
	Required bool         `json:"required"`
	Path     string       `json:"path"`
	Expected int64        `json:"expected_bytes"`
	Actual   int64        `json:"actual_bytes"`
	Partial  int64        `json:"partial_bytes,omitempty"`
	Present  bool         `json:"present"`
	Complete bool         `json:"complete"`
}

// ModelStatus aggregates FileState for a model.
type ModelStatus struct {
	ModelID  string      `json:"model_id"`
	Files    []FileState `json:"files"`
	Complete bool        `json:"complete"`
	// OnDisk and Total count required files only.
	OnDisk int64 `json:"on_disk_bytes"`
	Total  int64 `json:"total_bytes"`
}

// FileState returns the state of a single file.
func (s *Store) FileState(modelID string, f catalog.FileSpec) FileState {
	p := s.FilePath(modelID, f.Name)
	st := FileState{Name: f.Name, Role: f.Role, Required: f.Required, Path: p, Expected: f.SizeBytes}
	if n, ok := fsutil.RegularFileSize(p); ok {
		st.Present = true
		st.Actual = n
		st.Complete = WithinTolerance(n, f.SizeBytes)
	}
	if n, ok := fsutil.RegularFileSize(p + PartSuffix); ok {
		st.Partial = n
	}
	return st
}

// Status reports per-file presence for every file of d.
func (s *Store) Status(d catalog.ModelDescriptor) ModelStatus {
	ms := ModelStatus{ModelID: d.ID, Complete: true}
	for _, f := range d.Files {
		st := s.FileState(d.ID, f)
		ms.Files = append(ms.Files, st)
		if !f.Required {
			continue
		}
		ms.Total += f.SizeBytes
		if st.Complete {
			ms.OnDisk += st.Actual
		} else {
			ms.Complete = false
		}
	}
	return ms
}

// Missing returns required files that are absent or incomplete.
func (s *Store) Missing(d catalog.ModelDescriptor) []catalog.FileSpec {
	var out []catalog.FileSpec
	for _, f := range d.RequiredFiles() {
		if !s.FileState(d.ID, f).Complete {
			out = append(out, f)
		}
	}
	return out
}

// HasRequired reports whether every required file is complete.
func (s *Store) HasRequired(d catalog.ModelDescriptor) bool {
	return len(s.Missing(d)) == 0
}

// ModelPath returns the path of the primary model file and checks that it
// exists as a regular file.
func (s *Store) ModelPath(d catalog.ModelDescriptor) (string, error) {
	f, ok := d.PrimaryFile()
	if !ok {
		return "", errs.New(errs.ModelFileMissing, "model %s declares no model file", d.ID)
	}
	p := s.FilePath(d.ID, f.Name)
	if _, ok := fsutil.RegularFileSize(p); !ok {
		return p, errs.New(errs.ModelFileMissing, "model file not found: %s", p)
	}
	return p, nil
}

// ProjectorPath returns the projector path when d has one and it exists.
// The path is returned even when missing so callers can report it.
func (s *Store) ProjectorPath(d catalog.ModelDescriptor) (path string, present bool) {
	f, ok := d.Projector()
	if !ok {
		return "", false
	}
	p := s.FilePath(d.ID, f.Name)
	_, present = fsutil.RegularFileSize(p)
	return p, present
}

// Verify checks the sha256 of fileName against the descriptor. Files
// without a declared hash pass when present.
func (s *Store) Verify(d catalog.ModelDescriptor, fileName string) error {
	var spec *catalog.FileSpec
	for i := range d.Files {
		if d.Files[i].Name == fileName {
			spec = &d.Files[i]
			break
		}
	}
	if spec == nil {
		return errs.New(errs.ModelNotFound, "model %s has no file %q", d.ID, fileName)
	}
	return VerifyFile(s.FilePath(d.ID, fileName), spec.SHA256)
}

// VerifyFile hashes path and compares it with want (hex). Empty want only
// checks that the file exists.
func VerifyFile(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return errs.Wrap(err, errs.ModelFileMissing, "open "+filepath.Base(path))
	}
	defer f.Close()
	if want == "" {
		return nil
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, want) {
		return errs.New(errs.ChecksumMismatch, "%s: sha256 %s, want %s", filepath.Base(path), got, strings.ToLower(want))
	}
	return nil
}

// Remove deletes every file stored for modelID.
func (s *Store) Remove(modelID string) error {
	if !localName(modelID) {
		return errs.New(errs.ModelNotFound, "invalid model id %q", modelID)
	}
	return os.RemoveAll(s.ModelDir(modelID))
}

// localName reports whether name is a single path element inside the base dir.
func localName(name string) bool {
	return name != "" && name != "." && filepath.IsLocal(name) && !strings.ContainsAny(name, `/\`)
}

// EnsureModelDir creates <baseDir>/<modelID>.
func (s *Store) EnsureModelDir(modelID string) (string, error) {
	dir := s.ModelDir(modelID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
