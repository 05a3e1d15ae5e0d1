package types

// InferRequest represents an inference request payload.
type InferRequest struct {
	// Required prompt text.
	// example: Classify this document.
	Prompt string `json:"prompt" example:"Classify this document."`
	// Requested timeout in milliseconds. Clamped by the server.
	// example: 60000
	TimeoutMs int64 `json:"timeout_ms,omitempty" example:"60000"`
	// Sampling temperature (higher = more random).
	// example: 0.2
	Temperature *float64 `json:"temperature,omitempty" example:"0.2"`
	// Maximum number of new tokens to generate.
	// example: 256
	MaxTokens int `json:"max_tokens,omitempty" example:"256"`
	// Optional path to a file attached to the prompt (image/audio/text).
	// example: /home/user/Pictures/cat.jpg
	FilePath string `json:"file_path,omitempty" example:"/home/user/Pictures/cat.jpg"`
	// When true the response must contain a JSON object or array; it is
	// extracted and validated before being returned.
	// example: true
	ExpectJSON bool `json:"expect_json,omitempty" example:"true"`
}

// InferResponse is returned by POST /infer.
type InferResponse struct {
	// Whether the engine produced a usable response.
	Success bool `json:"success"`
	// Response text (or the extracted JSON document when expect_json is set).
	Response string `json:"response,omitempty"`
	// Error message when success is false.
	Error string `json:"error,omitempty"`
	// Timeout actually applied, in milliseconds.
	// example: 60000
	AppliedTimeoutMs int64 `json:"applied_timeout_ms" example:"60000"`
	// Model that served the request.
	// example: qwen2.5-3b
	ModelID string `json:"model_id" example:"qwen2.5-3b"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: service not ready
	Error string `json:"error" example:"service not ready"`
	// Machine-readable reason code.
	// example: NotReady
	Reason string `json:"reason,omitempty" example:"NotReady"`
	// HTTP status code.
	// example: 503
	Code int `json:"code" example:"503"`
}

// SwitchRequest selects a different model.
type SwitchRequest struct {
	// example: qwen2.5-3b
	Model string `json:"model" example:"qwen2.5-3b"`
}

// ModelSummary is one entry of GET /models.
type ModelSummary struct {
	// example: qwen2.5-3b
	ID string `json:"id" example:"qwen2.5-3b"`
	// example: Qwen 2.5 3B Instruct
	Name string `json:"name" example:"Qwen 2.5 3B Instruct"`
	// example: 3B
	Parameters string `json:"parameters" example:"3B"`
	// example: false
	Multimodal bool `json:"multimodal" example:"false"`
	// Whether all required files are present on disk.
	// example: true
	Downloaded bool `json:"downloaded" example:"true"`
	// Files still missing (required ones only).
	Missing []string `json:"missing,omitempty"`
	// Total size of required files in bytes.
	// example: 1930000000
	SizeBytes int64 `json:"size_bytes" example:"1930000000"`
	// Whether this is the selected model.
	Selected bool `json:"selected"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []ModelSummary `json:"models"`
}

// DownloadStatus summarizes a download task.
type DownloadStatus struct {
	// example: 5b1f0f0e-9a47-4c7e-8d0c-0a0c3e1fa2d1
	ID string `json:"id" example:"5b1f0f0e-9a47-4c7e-8d0c-0a0c3e1fa2d1"`
	// example: qwen2.5-3b
	ModelID string `json:"model_id" example:"qwen2.5-3b"`
	// example: downloading
	Status string `json:"status" example:"downloading"`
	// example: qwen2.5-3b-instruct-q4_k_m.gguf
	CurrentFile string `json:"current_file,omitempty" example:"qwen2.5-3b-instruct-q4_k_m.gguf"`
	// example: 104857600
	ReceivedBytes int64 `json:"received_bytes" example:"104857600"`
	// example: 1930000000
	TotalBytes int64 `json:"total_bytes" example:"1930000000"`
	// example: 5.4
	Percent float64 `json:"percent" example:"5.4"`
	// Per-file received bytes.
	Files map[string]int64 `json:"files,omitempty"`
	// Unix seconds.
	StartedAt int64 `json:"started_at_unix"`
	// Unix seconds, zero while running.
	EndedAt int64 `json:"ended_at_unix,omitempty"`
	// Last error message.
	Error string `json:"error,omitempty"`
}

// FileTypeMatch is returned by GET /match/{model}.
type FileTypeMatch struct {
	// example: .jpg
	Extension string `json:"extension" example:".jpg"`
	// example: image
	Type string `json:"type,omitempty" example:"image"`
	// example: true
	Supported bool `json:"supported" example:"true"`
	// Reason code when unsupported.
	// example: RuntimeUnavailable
	Reason string `json:"reason,omitempty" example:"RuntimeUnavailable"`
	// 0-100.
	// example: 80
	Score int `json:"score" example:"80"`
	// example: high
	Quality string `json:"quality,omitempty" example:"high"`
	// Human-readable limitations.
	Limitations []string `json:"limitations,omitempty"`
	// Estimated processing time in milliseconds.
	// example: 5000
	EstimatedTimeMs int64 `json:"estimated_time_ms" example:"5000"`
	// Estimated memory requirement in MB.
	// example: 4096
	EstimatedMemoryMB int `json:"estimated_memory_mb" example:"4096"`
	// Estimated success rate 0..1.
	// example: 0.9
	SuccessRate float64 `json:"success_rate" example:"0.9"`
}

// CapabilityResponse is returned by GET /capabilities.
type CapabilityResponse struct {
	// example: local:qwen2.5-vl-3b
	Key           string              `json:"key" example:"local:qwen2.5-vl-3b"`
	SupportsText  bool                `json:"supports_text"`
	SupportsImage bool                `json:"supports_image"`
	SupportsAudio bool                `json:"supports_audio"`
	SupportsVideo bool                `json:"supports_video"`
	MaxContext    int                 `json:"max_context"`
	Extensions    map[string][]string `json:"extensions,omitempty"`
	// Unix milliseconds.
	ComputedAt int64 `json:"computed_at_unix_ms"`
}

// HardwareSummary describes the host as seen by the hardware probe.
type HardwareSummary struct {
	// example: 8
	CPUs int `json:"cpus" example:"8"`
	// example: 32768
	TotalRAMMB int `json:"total_ram_mb" example:"32768"`
	// example: 8192
	TotalVRAMMB int `json:"total_vram_mb,omitempty" example:"8192"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Whether the status could be read.
	Available bool `json:"available"`
	// Overall orchestrator state (uninitialized, initializing, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Display status (not-downloaded, initializing, ready, degraded, error).
	// example: ready
	Status string `json:"status" example:"ready"`
	// Active model id, null when none is selected.
	// example: qwen2.5-3b
	ModelName *string `json:"model_name" example:"qwen2.5-3b"`
	// Whether an engine process is serving requests.
	EngineRunning bool `json:"engine_running"`
	// Declared capability types of the active model.
	Capabilities []string `json:"capabilities,omitempty"`
	// Fraction of recent inference calls that failed (0..1).
	// example: 0.05
	ErrorRate float64 `json:"error_rate" example:"0.05"`
	// Number of inference calls in the error-rate window.
	// example: 20
	RecentRequests int `json:"recent_requests" example:"20"`
	// Last error observed by the orchestrator (if any).
	LastError string `json:"last_error,omitempty"`
	// In-flight downloads.
	Downloads []DownloadStatus `json:"downloads,omitempty"`
	// Host hardware.
	Hardware *HardwareSummary `json:"hardware,omitempty"`
	// Unix seconds when the snapshot was taken.
	// example: 1700000000
	UpdatedAt int64 `json:"updated_at_unix" example:"1700000000"`
	// Uptime of the service in seconds.
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
}
