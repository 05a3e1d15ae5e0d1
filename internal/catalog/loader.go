package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "modelhost://catalog.schema.json"

// File is the on-disk catalog format.
type File struct {
	Recommended []string          `json:"recommended,omitempty" yaml:"recommended,omitempty" toml:"recommended,omitempty"`
	Models      []ModelDescriptor `json:"models" yaml:"models" toml:"models"`
}

var catalogSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile(schemaURL)
})

// LoadFile reads a catalog file (.yaml/.yml, .json or .toml), validates it
// against the embedded schema and merges it over the built-in models.
// Models in the file replace built-ins with the same id. An empty path
// returns the built-in catalog.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Builtin(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(b, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return Merge(builtinModels, builtinRecommended, f)
}

// Parse decodes and validates catalog bytes. ext selects the decoder.
func Parse(b []byte, ext string) (File, error) {
	var raw any
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return File{}, err
		}
	case ".json":
		if err := json.Unmarshal(b, &raw); err != nil {
			return File{}, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &raw); err != nil {
			return File{}, err
		}
	default:
		return File{}, fmt.Errorf("unsupported catalog extension: %s", ext)
	}
	// Normalise through JSON so the validator sees plain JSON types.
	j, err := json.Marshal(raw)
	if err != nil {
		return File{}, err
	}
	var doc any
	if err := json.Unmarshal(j, &doc); err != nil {
		return File{}, err
	}
	s, err := catalogSchema()
	if err != nil {
		return File{}, err
	}
	if err := s.Validate(doc); err != nil {
		return File{}, fmt.Errorf("schema: %w", err)
	}
	var f File
	if err := json.Unmarshal(j, &f); err != nil {
		return File{}, err
	}
	return f, nil
}

// Merge overlays f onto base. File models with a known id replace the base
// entry in place; new ids are appended. A non-empty f.Recommended replaces
// the base order.
func Merge(base []ModelDescriptor, recommended []string, f File) (*Catalog, error) {
	models := make([]ModelDescriptor, len(base))
	copy(models, base)
	pos := make(map[string]int, len(models))
	for i, m := range models {
		pos[m.ID] = i
	}
	for _, m := range f.Models {
		if i, ok := pos[m.ID]; ok {
			models[i] = m
			continue
		}
		pos[m.ID] = len(models)
		models = append(models, m)
	}
	order := recommended
	if len(f.Recommended) > 0 {
		order = f.Recommended
	}
	return New(models, order)
}
