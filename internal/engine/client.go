package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"modelhost/internal/errs"
)

// Client talks to the engine's OpenAI-compatible HTTP interface.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for baseURL. A nil hc uses a client without a
// global timeout; every call is bounded by its context.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 0}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

// BaseURL returns the engine root URL.
func (c *Client) BaseURL() string { return c.base }

// HealthStatus is the parsed health response.
type HealthStatus struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// Health queries GET /health. Both {"healthy":true} and llama-server's
// {"status":"ok"} count as healthy; 503 "loading model" is not-yet-healthy
// and reported without an error.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/health", nil)
	if err != nil {
		return HealthStatus{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return HealthStatus{}, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var raw struct {
		Healthy *bool           `json:"healthy"`
		Status  string          `json:"status"`
		Error   json.RawMessage `json:"error"`
	}
	_ = json.Unmarshal(b, &raw)
	hs := HealthStatus{Error: errorText(raw.Error)}
	switch {
	case raw.Healthy != nil:
		hs.Healthy = *raw.Healthy && resp.StatusCode < 300
	case raw.Status != "":
		hs.Healthy = strings.EqualFold(raw.Status, "ok") && resp.StatusCode < 300
	default:
		hs.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 300
	}
	if !hs.Healthy && hs.Error == "" && resp.StatusCode >= 300 {
		hs.Error = resp.Status
	}
	return hs, nil
}

// errorText accepts "msg" or {"message":"msg"}.
func errorText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil {
		return obj.Message
	}
	return string(raw)
}

// ModelInfo is one entry of GET /v1/models.
type ModelInfo struct {
	ID     string
	Vision bool
	Audio  bool
}

type rawModel struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Modalities   *struct {
		Vision bool `json:"vision"`
		Audio  bool `json:"audio"`
	} `json:"modalities"`
}

// Models lists the models served by the engine with their loaded
// modalities. It accepts {"data":[...]}, {"models":[...]} or a bare array.
func (c *Client) Models(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("engine models: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	var items []rawModel
	var wrapped struct {
		Data   []rawModel `json:"data"`
		Models []rawModel `json:"models"`
	}
	if err := json.Unmarshal(b, &wrapped); err == nil {
		items = append(wrapped.Data, wrapped.Models...)
	} else if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("engine models: %w", err)
	}
	out := make([]ModelInfo, 0, len(items))
	for _, it := range items {
		mi := ModelInfo{ID: it.ID}
		if mi.ID == "" {
			mi.ID = it.Name
		}
		if it.Modalities != nil {
			mi.Vision, mi.Audio = it.Modalities.Vision, it.Modalities.Audio
		}
		for _, c := range it.Capabilities {
			switch strings.ToLower(c) {
			case "multimodal", "vision":
				mi.Vision = true
			case "audio":
				mi.Audio = true
			}
		}
		out = append(out, mi)
	}
	return out, nil
}

// CompletionRequest is a single-turn generation request.
type CompletionRequest struct {
	Prompt      string
	Temperature *float64
	MaxTokens   int
	// FilePath attaches a file: images as data URLs, audio as input_audio,
	// anything else inlined as text.
	FilePath string
}

// CompletionResult mirrors the engine's {success, response, error} shape.
type CompletionResult struct {
	Success  bool   `json:"success"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

type chatPart struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	ImageURL   *chatImageURL   `json:"image_url,omitempty"`
	InputAudio *chatInputAudio `json:"input_audio,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatInputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type chatMessage struct {
	Role    string     `json:"role"`
	Content []chatPart `json:"content"`
}

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error json.RawMessage `json:"error"`
}

var (
	audioFormats = map[string]string{".wav": "wav", ".mp3": "mp3", ".flac": "flac", ".ogg": "ogg", ".m4a": "m4a"}
	imageTypes   = map[string]string{
		".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".png": "image/png",
		".gif": "image/gif", ".webp": "image/webp", ".bmp": "image/bmp",
	}
)

// Complete runs a non-streaming chat completion. Transport problems return
// an error; an engine-reported failure returns Success=false.
func (c *Client) Complete(ctx context.Context, r CompletionRequest) (CompletionResult, error) {
	parts := []chatPart{{Type: "text", Text: r.Prompt}}
	if r.FilePath != "" {
		p, err := filePart(r.FilePath)
		if err != nil {
			return CompletionResult{}, err
		}
		parts = append(parts, p)
	}
	body, err := json.Marshal(chatRequest{
		Messages:    []chatMessage{{Role: "user", Content: parts}},
		Temperature: r.Temperature,
		MaxTokens:   r.MaxTokens,
	})
	if err != nil {
		return CompletionResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return CompletionResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return CompletionResult{}, ctx.Err()
		}
		return CompletionResult{}, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return CompletionResult{}, err
	}
	var cr chatResponse
	jerr := json.Unmarshal(b, &cr)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorText(cr.Error)
		if msg == "" {
			msg = strings.TrimSpace(string(b))
		}
		return CompletionResult{Success: false, Error: fmt.Sprintf("%s: %s", resp.Status, msg)}, nil
	}
	if jerr != nil {
		return CompletionResult{}, errs.Wrap(jerr, errs.InvalidResponse, "decode completion")
	}
	if len(cr.Choices) == 0 {
		return CompletionResult{Success: false, Error: "engine returned no choices"}, nil
	}
	return CompletionResult{Success: true, Response: cr.Choices[0].Message.Content}, nil
}

func filePart(path string) (chatPart, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return chatPart{}, errs.Wrap(err, errs.UnsupportedFileType, "read attachment")
	}
	ext := strings.ToLower(filepath.Ext(path))
	if f, ok := audioFormats[ext]; ok {
		return chatPart{Type: "input_audio", InputAudio: &chatInputAudio{Data: base64.StdEncoding.EncodeToString(b), Format: f}}, nil
	}
	if mt, ok := imageTypes[ext]; ok {
		url := "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(b)
		return chatPart{Type: "image_url", ImageURL: &chatImageURL{URL: url}}, nil
	}
	return chatPart{Type: "text", Text: fmt.Sprintf("\n--- %s ---\n%s", filepath.Base(path), b)}, nil
}
