package types

// RuntimeModalities reports which input modalities the running engine has
// actually loaded. It is obtained by probing the live process and may differ
// from what a model declares (e.g., a projector file was not loaded).
type RuntimeModalities struct {
	// Model id the engine is serving.
	// example: qwen2.5-vl-3b
	ModelID string `json:"model_id" example:"qwen2.5-vl-3b"`
	// Vision input available.
	// example: true
	Vision bool `json:"vision" example:"true"`
	// Audio input available.
	// example: false
	Audio bool `json:"audio" example:"false"`
}
