// Package capability answers which input modalities the active engine
// configuration supports. Declared capability (catalog metadata) and
// runtime capability (what the live engine actually loaded) are kept as
// separate fields and combined per modality with AND.
//
// Snapshots are cached by configuration key, not by time: a snapshot for a
// key stays valid until the key changes or Invalidate is called.
package capability

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"modelhost/internal/catalog"
	"modelhost/internal/errs"
	"modelhost/internal/metrics"
	"modelhost/pkg/types"
)

// Mode selects how capability is derived.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// EngineSettings identifies the active configuration.
type EngineSettings struct {
	Mode     Mode
	ModelID  string
	Provider string
}

// Key is the canonical cache key: "local:<model>" or "remote:<provider>:<model>".
func (s EngineSettings) Key() string {
	if s.Mode == ModeRemote {
		return "remote:" + s.Provider + ":" + s.ModelID
	}
	return "local:" + s.ModelID
}

// Modalities is a set of input modalities.
type Modalities struct {
	Text  bool `json:"text"`
	Image bool `json:"image"`
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// And combines declared and runtime support.
func (m Modalities) And(o Modalities) Modalities {
	return Modalities{Text: m.Text && o.Text, Image: m.Image && o.Image, Audio: m.Audio && o.Audio, Video: m.Video && o.Video}
}

// Has reports support for a capability type. Documents ride on text.
func (m Modalities) Has(t catalog.CapabilityType) bool {
	switch t {
	case catalog.CapText, catalog.CapDocument:
		return m.Text
	case catalog.CapImage:
		return m.Image
	case catalog.CapAudio:
		return m.Audio
	case catalog.CapVideo:
		return m.Video
	}
	return false
}

// Snapshot is an immutable capability result for one configuration key.
type Snapshot struct {
	Key      string
	Mode     Mode
	ModelID  string
	Declared Modalities
	Runtime  Modalities
	// Effective is Declared AND Runtime.
	Effective  Modalities
	MaxContext int
	Extensions map[catalog.CapabilityType][]string
	ComputedAt time.Time
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Extensions = make(map[catalog.CapabilityType][]string, len(s.Extensions))
	for k, v := range s.Extensions {
		out.Extensions[k] = append([]string(nil), v...)
	}
	return out
}

// API converts the snapshot into the control API payload.
func (s Snapshot) API() types.CapabilityResponse {
	ext := make(map[string][]string, len(s.Extensions))
	for k, v := range s.Extensions {
		ext[string(k)] = append([]string(nil), v...)
	}
	return types.CapabilityResponse{
		Key:           s.Key,
		SupportsText:  s.Effective.Text,
		SupportsImage: s.Effective.Image,
		SupportsAudio: s.Effective.Audio,
		SupportsVideo: s.Effective.Video,
		MaxContext:    s.MaxContext,
		Extensions:    ext,
		ComputedAt:    s.ComputedAt.UnixMilli(),
	}
}

// Resolver looks up model descriptors.
type Resolver interface {
	Get(id string) (catalog.ModelDescriptor, bool)
}

// RuntimeProber queries the running engine.
type RuntimeProber interface {
	ProbeModalities(ctx context.Context) (types.RuntimeModalities, error)
}

// Config configures a Detector.
type Config struct {
	Catalog Resolver
	Prober  RuntimeProber
	// Rules replaces DefaultRules when non-nil.
	Rules  []Rule
	Logger zerolog.Logger
}

// Detector computes and caches capability snapshots.
type Detector struct {
	cat    Resolver
	prober RuntimeProber
	rules  []Rule
	log    zerolog.Logger
	flight singleflight.Group

	mu   sync.Mutex
	gen  uint64
	key  string
	snap *Snapshot
	// runtime probe, valid for gen
	rt    *types.RuntimeModalities
	rtGen uint64
}

// New returns a Detector. It fails when a rule pattern does not compile.
func New(cfg Config) (*Detector, error) {
	rules := cfg.Rules
	if rules == nil {
		rules = DefaultRules()
	}
	compiled := make([]Rule, len(rules))
	for i, r := range rules {
		if err := r.compile(); err != nil {
			return nil, errs.Wrap(err, errs.InvalidConfig, fmt.Sprintf("capability rule %d", i))
		}
		compiled[i] = r
	}
	return &Detector{
		cat:    cfg.Catalog,
		prober: cfg.Prober,
		rules:  compiled,
		log:    cfg.Logger.With().Str("component", "capability").Logger(),
	}, nil
}

// Invalidate drops the cached snapshot and runtime probe. Probes already in
// flight finish but their results are discarded.
func (d *Detector) Invalidate() {
	d.mu.Lock()
	d.gen++
	d.key = ""
	d.snap = nil
	d.rt = nil
	d.mu.Unlock()
	d.log.Debug().Msg("capability_invalidate")
}

// Generation increases on every invalidation or key change.
func (d *Detector) Generation() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gen
}

// Cached returns the current snapshot without computing one.
func (d *Detector) Cached() (Snapshot, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.snap == nil {
		return Snapshot{}, false
	}
	return d.snap.clone(), true
}

// Detect returns the snapshot for s, computing it when the cache holds a
// different key. A key change clears the cache before computing.
func (d *Detector) Detect(ctx context.Context, s EngineSettings) (Snapshot, error) {
	if s.ModelID == "" {
		return Snapshot{}, errs.New(errs.NoModelSelected, "no model selected")
	}
	key := s.Key()
	d.mu.Lock()
	if d.key == key && d.snap != nil {
		out := d.snap.clone()
		d.mu.Unlock()
		return out, nil
	}
	if d.key != key {
		d.key = key
		d.snap = nil
		d.rt = nil
		d.gen++
	}
	gen := d.gen
	d.mu.Unlock()

	v, err, _ := d.flight.Do(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		if s.Mode == ModeRemote {
			return d.computeRemote(s), nil
		}
		return d.computeLocal(ctx, s, gen)
	})
	if err != nil {
		return Snapshot{}, err
	}
	snap := v.(Snapshot)

	d.mu.Lock()
	if d.gen == gen && d.key == key {
		stored := snap.clone()
		d.snap = &stored
	}
	d.mu.Unlock()
	return snap.clone(), nil
}

func (d *Detector) computeLocal(ctx context.Context, s EngineSettings, gen uint64) (Snapshot, error) {
	desc, ok := d.cat.Get(s.ModelID)
	if !ok {
		return Snapshot{}, errs.New(errs.ModelNotFound, "unknown model %q", s.ModelID)
	}
	snap := Snapshot{
		Key:        s.Key(),
		Mode:       ModeLocal,
		ModelID:    s.ModelID,
		Declared:   declared(desc),
		Runtime:    Modalities{Text: true},
		MaxContext: desc.ContextSize,
		Extensions: make(map[catalog.CapabilityType][]string),
		ComputedAt: time.Now(),
	}
	if desc.Multimodal {
		if rt, ok := d.runtime(ctx, s.ModelID, gen); ok {
			snap.Runtime.Image = rt.Vision
			snap.Runtime.Video = rt.Vision
			snap.Runtime.Audio = rt.Audio
		}
	}
	snap.Effective = snap.Declared.And(snap.Runtime)
	for _, c := range desc.Capabilities {
		if snap.Effective.Has(c.Type) {
			snap.Extensions[c.Type] = append([]string(nil), c.Extensions...)
		}
	}
	d.log.Debug().Str("key", snap.Key).Interface("declared", snap.Declared).Interface("runtime", snap.Runtime).Msg("capability_detect")
	return snap, nil
}

// declared derives declared modalities; text is always available locally
// and media types need the multimodal flag as well as a declaration.
func declared(desc catalog.ModelDescriptor) Modalities {
	m := Modalities{Text: true}
	if !desc.Multimodal {
		return m
	}
	_, m.Image = desc.Declares(catalog.CapImage)
	_, m.Audio = desc.Declares(catalog.CapAudio)
	_, m.Video = desc.Declares(catalog.CapVideo)
	return m
}

func (d *Detector) computeRemote(s EngineSettings) Snapshot {
	m := Modalities{Text: true}
	for i := range d.rules {
		r := &d.rules[i]
		if !r.matches(s.Provider, s.ModelID) {
			continue
		}
		switch r.Modality {
		case catalog.CapImage:
			m.Image = true
		case catalog.CapAudio:
			m.Audio = true
		case catalog.CapVideo:
			m.Video = true
		}
	}
	snap := Snapshot{
		Key:        s.Key(),
		Mode:       ModeRemote,
		ModelID:    s.ModelID,
		Declared:   m,
		Runtime:    m,
		Effective:  m,
		MaxContext: remoteContext(s.ModelID),
		Extensions: make(map[catalog.CapabilityType][]string),
		ComputedAt: time.Now(),
	}
	for _, t := range []catalog.CapabilityType{catalog.CapText, catalog.CapDocument, catalog.CapImage, catalog.CapAudio, catalog.CapVideo} {
		if m.Has(t) {
			snap.Extensions[t] = ExtensionsFor(t)
		}
	}
	return snap
}

// runtime returns the live engine's modalities for modelID. The probe is
// cached for the current generation and shared between concurrent callers.
// ok is false when the engine is not running or serves another model.
func (d *Detector) runtime(ctx context.Context, modelID string, gen uint64) (types.RuntimeModalities, bool) {
	if d.prober == nil {
		return types.RuntimeModalities{}, false
	}
	d.mu.Lock()
	if d.rt != nil && d.rtGen == gen {
		rt := *d.rt
		d.mu.Unlock()
		return rt, rt.ModelID == "" || rt.ModelID == modelID
	}
	d.mu.Unlock()

	v, err, _ := d.flight.Do("runtime#"+strconv.FormatUint(gen, 10), func() (any, error) {
		return d.prober.ProbeModalities(ctx)
	})
	if err != nil {
		metrics.CapabilityProbes.WithLabelValues("error").Inc()
		d.log.Debug().Err(err).Str("model", modelID).Msg("capability_probe_failed")
		return types.RuntimeModalities{}, false
	}
	metrics.CapabilityProbes.WithLabelValues("ok").Inc()
	rt := v.(types.RuntimeModalities)
	d.mu.Lock()
	if d.gen == gen {
		d.rt, d.rtGen = &rt, gen
	}
	d.mu.Unlock()
	return rt, rt.ModelID == "" || rt.ModelID == modelID
}

// Runtime exposes the cached (or freshly probed) runtime modalities.
func (d *Detector) Runtime(ctx context.Context, modelID string) (types.RuntimeModalities, bool) {
	return d.runtime(ctx, modelID, d.Generation())
}
