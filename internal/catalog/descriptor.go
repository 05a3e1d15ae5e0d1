// Package catalog holds the registry of known model descriptors: which files
// a model needs, what it declares it can process, and what hardware it wants.
// Descriptors are immutable once the catalog is built.
package catalog

import (
	"strconv"
	"strings"
)

// Role classifies a model file.
type Role string

const (
	RoleModel     Role = "model"
	RoleProjector Role = "projector"
	RoleTokenizer Role = "tokenizer"
	RoleConfig    Role = "config"
	RoleOther     Role = "other"
)

// CapabilityType is an input modality a model can process.
type CapabilityType string

const (
	CapText     CapabilityType = "text"
	CapImage    CapabilityType = "image"
	CapAudio    CapabilityType = "audio"
	CapVideo    CapabilityType = "video"
	CapDocument CapabilityType = "document"
)

// Quality is the declared quality tier for a capability.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
	QualityUltra  Quality = "ultra"
)

// FileSpec describes one downloadable file of a model.
type FileSpec struct {
	Name      string `json:"name" yaml:"name" toml:"name"`
	URL       string `json:"url" yaml:"url" toml:"url"`
	SizeBytes int64  `json:"size_bytes" yaml:"size_bytes" toml:"size_bytes"`
	SHA256    string `json:"sha256,omitempty" yaml:"sha256,omitempty" toml:"sha256,omitempty"`
	Required  bool   `json:"required" yaml:"required" toml:"required"`
	Role      Role   `json:"role" yaml:"role" toml:"role"`
}

// Capability is a declared capability: the modality, which extensions it
// covers and at what quality.
type Capability struct {
	Type       CapabilityType `json:"type" yaml:"type" toml:"type"`
	Extensions []string       `json:"extensions" yaml:"extensions" toml:"extensions"`
	Quality    Quality        `json:"quality" yaml:"quality" toml:"quality"`
	Primary    bool           `json:"primary,omitempty" yaml:"primary,omitempty" toml:"primary,omitempty"`
}

// Hardware lists memory requirements in MB.
type Hardware struct {
	MinVRAMMB         int `json:"min_vram_mb" yaml:"min_vram_mb" toml:"min_vram_mb"`
	RecommendedVRAMMB int `json:"recommended_vram_mb" yaml:"recommended_vram_mb" toml:"recommended_vram_mb"`
	MinRAMMB          int `json:"min_ram_mb" yaml:"min_ram_mb" toml:"min_ram_mb"`
	RecommendedRAMMB  int `json:"recommended_ram_mb" yaml:"recommended_ram_mb" toml:"recommended_ram_mb"`
}

// ModelDescriptor is static metadata describing a model.
type ModelDescriptor struct {
	ID           string       `json:"id" yaml:"id" toml:"id"`
	Name         string       `json:"name" yaml:"name" toml:"name"`
	Family       string       `json:"family,omitempty" yaml:"family,omitempty" toml:"family,omitempty"`
	Parameters   string       `json:"parameters" yaml:"parameters" toml:"parameters"`
	ContextSize  int          `json:"context_size,omitempty" yaml:"context_size,omitempty" toml:"context_size,omitempty"`
	Multimodal   bool         `json:"multimodal" yaml:"multimodal" toml:"multimodal"`
	Capabilities []Capability `json:"capabilities" yaml:"capabilities" toml:"capabilities"`
	Files        []FileSpec   `json:"files" yaml:"files" toml:"files"`
	Hardware     Hardware     `json:"hardware" yaml:"hardware" toml:"hardware"`
}

// PrimaryFile returns the first required model-role file.
func (d ModelDescriptor) PrimaryFile() (FileSpec, bool) {
	for _, f := range d.Files {
		if f.Role == RoleModel && f.Required {
			return f, true
		}
	}
	for _, f := range d.Files {
		if f.Role == RoleModel {
			return f, true
		}
	}
	return FileSpec{}, false
}

// Projector returns the projector (mmproj) file, if any.
func (d ModelDescriptor) Projector() (FileSpec, bool) {
	for _, f := range d.Files {
		if f.Role == RoleProjector {
			return f, true
		}
	}
	return FileSpec{}, false
}

// RequiredFiles returns files flagged required.
func (d ModelDescriptor) RequiredFiles() []FileSpec {
	var out []FileSpec
	for _, f := range d.Files {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// RequiredBytes sums the declared size of required files.
func (d ModelDescriptor) RequiredBytes() int64 {
	var n int64
	for _, f := range d.Files {
		if f.Required {
			n += f.SizeBytes
		}
	}
	return n
}

// Declares returns the declared capability of the given type.
func (d ModelDescriptor) Declares(t CapabilityType) (Capability, bool) {
	for _, c := range d.Capabilities {
		if c.Type == t {
			return c, true
		}
	}
	return Capability{}, false
}

// CapabilityTypes lists declared capability types in declaration order.
func (d ModelDescriptor) CapabilityTypes() []CapabilityType {
	out := make([]CapabilityType, 0, len(d.Capabilities))
	for _, c := range d.Capabilities {
		out = append(out, c.Type)
	}
	return out
}

// ParameterBillions parses Parameters ("3B", "1.1B", "500M") into billions.
// Returns 0 if it cannot be parsed.
func (d ModelDescriptor) ParameterBillions() float64 {
	s := strings.TrimSpace(strings.ToUpper(d.Parameters))
	if s == "" {
		return 0
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	case strings.HasSuffix(s, "M"):
		s = strings.TrimSuffix(s, "M")
		mult = 0.001
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v * mult
}

// clone returns a deep copy so callers cannot mutate catalog state.
func (d ModelDescriptor) clone() ModelDescriptor {
	out := d
	out.Files = append([]FileSpec(nil), d.Files...)
	out.Capabilities = make([]Capability, len(d.Capabilities))
	for i, c := range d.Capabilities {
		c.Extensions = append([]string(nil), c.Extensions...)
		out.Capabilities[i] = c
	}
	return out
}
