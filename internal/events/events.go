// Package events carries lifecycle notifications from the orchestrator,
// download manager and supervisor to subscribers (UI bridge, status
// aggregator). Payloads are plain data records.
package events

import "time"

// Event names published by the lifecycle components.
const (
	StatusChanged      = "status-changed"
	DownloadProgress   = "download-progress"
	DownloadComplete   = "download-complete"
	DownloadError      = "download-error"
	DownloadCanceled   = "download-canceled"
	ModelNotDownloaded = "model-not-downloaded"
	StatusSnapshot     = "status-snapshot"

	SpawnStart   = "spawn_start"
	SpawnReady   = "spawn_ready"
	SpawnExit    = "spawn_exit"
	SpawnTimeout = "spawn_timeout"
	SpawnStop    = "spawn_stop"
)

// Event represents a lifecycle event.
// Minimal and stable: name + model ID and a typed payload.
type Event struct {
	Name    string    `json:"name"`
	ModelID string    `json:"model_id,omitempty"`
	Payload any       `json:"payload,omitempty"`
	Time    time.Time `json:"time"`
}

// StatusChangedPayload is emitted on every orchestrator state transition.
// ModelName is nil when no model is selected.
type StatusChangedPayload struct {
	ModelName *string `json:"modelName"`
	Status    string  `json:"status"`
}

// DownloadPayload is emitted for download progress and terminal events.
type DownloadPayload struct {
	TaskID        string           `json:"taskId"`
	ModelID       string           `json:"modelId"`
	Status        string           `json:"status"`
	CurrentFile   string           `json:"currentFile,omitempty"`
	ReceivedBytes int64            `json:"receivedBytes"`
	TotalBytes    int64            `json:"totalBytes"`
	Percent       float64          `json:"percent"`
	Files         map[string]int64 `json:"files,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// ModelNotDownloadedPayload asks the UI to redirect to the acquisition flow.
type ModelNotDownloadedPayload struct {
	ModelID string   `json:"modelId"`
	Path    string   `json:"path,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// SpawnPayload describes engine process lifecycle events.
type SpawnPayload struct {
	PID    int    `json:"pid,omitempty"`
	Port   int    `json:"port,omitempty"`
	URL    string `json:"url,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Publisher receives events. Implementations should be lightweight and
// non-blocking; Publish must not panic.
type Publisher interface {
	Publish(Event)
}

// Noop drops events. It is the default publisher.
type Noop struct{}

func (Noop) Publish(Event) {}

// OrNoop returns p, or Noop when p is nil.
func OrNoop(p Publisher) Publisher {
	if p == nil {
		return Noop{}
	}
	return p
}

// New stamps an event with the current time.
func New(name, modelID string, payload any) Event {
	return Event{Name: name, ModelID: modelID, Payload: payload, Time: time.Now()}
}
