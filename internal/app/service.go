package app

import (
	"context"

	"modelhost/internal/capability"
	"modelhost/internal/errs"
	"modelhost/internal/events"
	"modelhost/pkg/types"
)

// Status returns the aggregator's latest snapshot.
func (a *App) Status() types.StatusResponse { return a.Aggregator.Latest() }

func (a *App) Ready() bool { return a.Manager.Ready() }

func (a *App) EnsureReady(ctx context.Context) error { return a.Manager.EnsureReady(ctx) }

func (a *App) Reinitialize(ctx context.Context) error { return a.Manager.Reinitialize(ctx) }

func (a *App) SwitchModel(ctx context.Context, id string) error {
	return a.Manager.SwitchModel(ctx, id)
}

func (a *App) Infer(ctx context.Context, req types.InferRequest) (types.InferResponse, error) {
	return a.Manager.RequestInference(ctx, req)
}

// ListModels reports every catalog model in recommended order with its
// on-disk state. RecommendedOrder already lists unranked models last.
func (a *App) ListModels() []types.ModelSummary {
	selected := a.settings.SelectedModel()
	var out []types.ModelSummary
	seen := make(map[string]bool)
	add := func(id string) {
		d, ok := a.Catalog.Get(id)
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		s := types.ModelSummary{
			ID:         d.ID,
			Name:       d.Name,
			Parameters: d.Parameters,
			Multimodal: d.Multimodal,
			SizeBytes:  d.RequiredBytes(),
			Selected:   d.ID == selected,
		}
		for _, f := range a.Store.Missing(d) {
			s.Missing = append(s.Missing, f.Name)
		}
		s.Downloaded = len(s.Missing) == 0
		out = append(out, s)
	}
	for _, id := range a.Catalog.RecommendedOrder() {
		add(id)
	}
	return out
}

func (a *App) Downloads() []types.DownloadStatus { return a.Downloader.Active() }

func (a *App) StartDownload(modelID string) (types.DownloadStatus, error) {
	return a.Downloader.StartDownload(modelID)
}

func (a *App) CancelDownload(modelID string) bool { return a.Downloader.Cancel(modelID) }

// RemoveModel deletes the downloaded files of a catalog model. A download in
// progress must be canceled first. Removing the active model stops the
// engine and reinitializes.
func (a *App) RemoveModel(ctx context.Context, modelID string) error {
	if _, ok := a.Catalog.Get(modelID); !ok {
		return errs.New(errs.ModelNotFound, "unknown model %q", modelID)
	}
	if a.Downloader.IsActive(modelID) {
		return errs.New(errs.AlreadyDownloading, "model %q is downloading; cancel it first", modelID)
	}
	active := a.Manager.ModelID() == modelID
	if active {
		if err := a.Engine.Stop(); err != nil {
			a.log.Warn().Err(err).Str("model", modelID).Msg("engine_stop_failed")
		}
	}
	if err := a.Store.Remove(modelID); err != nil {
		return err
	}
	a.log.Info().Str("model", modelID).Bool("active", active).Msg("model_removed")
	if !active {
		return nil
	}
	a.Detector.Invalidate()
	return a.Manager.Reinitialize(ctx)
}

// Capabilities detects the capability snapshot of the active configuration.
func (a *App) Capabilities(ctx context.Context) (types.CapabilityResponse, error) {
	snap, err := a.Detector.Detect(ctx, a.engineSettings())
	if err != nil {
		return types.CapabilityResponse{}, err
	}
	return snap.API(), nil
}

func (a *App) engineSettings() capability.EngineSettings {
	if capability.Mode(a.cfg.Mode) == capability.ModeRemote {
		return capability.EngineSettings{Mode: capability.ModeRemote, ModelID: a.cfg.RemoteModel, Provider: a.cfg.RemoteProvider}
	}
	id := a.Manager.ModelID()
	if id == "" {
		id = a.settings.SelectedModel()
	}
	return capability.EngineSettings{Mode: capability.ModeLocal, ModelID: id}
}

// MatchFileType matches ext against modelID, or the active model when
// modelID is empty.
func (a *App) MatchFileType(ctx context.Context, modelID, ext string) types.FileTypeMatch {
	if modelID == "" {
		modelID = a.engineSettings().ModelID
	}
	if modelID == "" {
		return types.FileTypeMatch{Extension: ext, Reason: string(errs.NoModelSelected), Limitations: []string{"no model selected"}}
	}
	return a.Detector.MatchFileType(ctx, modelID, ext)
}

// Subscribe streams lifecycle events.
func (a *App) Subscribe(buffer int, names ...string) (<-chan events.Event, func()) {
	return a.Bus.Subscribe(buffer, names...)
}
