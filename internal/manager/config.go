package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"modelhost/internal/catalog"
	"modelhost/internal/config"
	"modelhost/internal/engine"
	"modelhost/internal/events"
	"modelhost/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultMaxQueueDepth = 32
	minInferenceTimeout  = 30 * time.Second
	maxTimeoutFactor     = 5
	outcomeWindow        = 100
)

// Catalog resolves model descriptors and the recommended scan order.
type Catalog interface {
	Get(id string) (catalog.ModelDescriptor, bool)
	RecommendedOrder() []string
}

// Assets reports whether a model's required files are on disk.
type Assets interface {
	HasRequired(d catalog.ModelDescriptor) bool
}

// Engine is the process supervisor as seen by the orchestrator.
type Engine interface {
	Start(ctx context.Context, modelID string) error
	Stop() error
	Running() bool
	Complete(ctx context.Context, r engine.CompletionRequest) (engine.CompletionResult, error)
}

// Capabilities is the capability detector as seen by the orchestrator.
type Capabilities interface {
	Invalidate()
	MatchFileType(ctx context.Context, modelID, ext string) types.FileTypeMatch
}

// ManagerConfig encapsulates all collaborators and tunables for Manager
// construction.
type ManagerConfig struct {
	Catalog      Catalog
	Assets       Assets
	Engine       Engine
	Capabilities Capabilities
	Settings     config.Source
	Publisher    events.Publisher
	Logger       zerolog.Logger

	// MaxQueueDepth bounds requests waiting for the engine. Default 32.
	MaxQueueDepth int
	// EngineBin and ModelsDir feed SanityCheck.
	EngineBin string
	ModelsDir string
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	if cfg.Settings == nil {
		cfg.Settings = config.NewMemory(config.Config{})
	}
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		log:       cfg.Logger.With().Str("component", "orchestrator").Logger(),
		pub:       events.OrNoop(cfg.Publisher),
		state:     StateUninitialized,
		status:    StatusInitializing,
		genCh:     make(chan struct{}, 1),
		queueCh:   make(chan struct{}, cfg.MaxQueueDepth),
		baseCtx:   ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	m.setStateMetric(StateUninitialized)
	return m
}
