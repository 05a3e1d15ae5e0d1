package catalog

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Catalog is a read-only registry of model descriptors.
type Catalog struct {
	models      []ModelDescriptor
	index       map[string]int
	recommended []string
}

// New builds a catalog. recommended lists model ids in the order the
// orchestrator should try them when no model is selected; ids not listed
// follow in declaration order.
func New(models []ModelDescriptor, recommended []string) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int, len(models))}
	for _, m := range models {
		if err := validateDescriptor(m); err != nil {
			return nil, err
		}
		if _, dup := c.index[m.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate model id %q", m.ID)
		}
		c.index[m.ID] = len(c.models)
		c.models = append(c.models, m.clone())
	}
	seen := make(map[string]bool, len(models))
	for _, id := range recommended {
		if _, ok := c.index[id]; !ok {
			return nil, fmt.Errorf("catalog: recommended model %q is not in the catalog", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		c.recommended = append(c.recommended, id)
	}
	for _, m := range c.models {
		if !seen[m.ID] {
			c.recommended = append(c.recommended, m.ID)
		}
	}
	return c, nil
}

// Get returns a copy of the descriptor with the given id.
func (c *Catalog) Get(id string) (ModelDescriptor, bool) {
	i, ok := c.index[id]
	if !ok {
		return ModelDescriptor{}, false
	}
	return c.models[i].clone(), true
}

// List returns copies of all descriptors in declaration order.
func (c *Catalog) List() []ModelDescriptor {
	out := make([]ModelDescriptor, len(c.models))
	for i, m := range c.models {
		out[i] = m.clone()
	}
	return out
}

// RecommendedOrder returns model ids in the fixed recommended order.
func (c *Catalog) RecommendedOrder() []string {
	return append([]string(nil), c.recommended...)
}

// Len returns the number of models.
func (c *Catalog) Len() int { return len(c.models) }

func validateDescriptor(m ModelDescriptor) error {
	if !safeName(m.ID) {
		return fmt.Errorf("catalog: invalid model id %q", m.ID)
	}
	if _, ok := m.PrimaryFile(); !ok {
		return fmt.Errorf("catalog: model %q has no file with role %q", m.ID, RoleModel)
	}
	names := make(map[string]bool, len(m.Files))
	for _, f := range m.Files {
		if !safeName(f.Name) {
			return fmt.Errorf("catalog: model %q: invalid file name %q", m.ID, f.Name)
		}
		if names[f.Name] {
			return fmt.Errorf("catalog: model %q: duplicate file %q", m.ID, f.Name)
		}
		names[f.Name] = true
		switch f.Role {
		case RoleModel, RoleProjector, RoleTokenizer, RoleConfig, RoleOther:
		default:
			return fmt.Errorf("catalog: model %q: file %q has unknown role %q", m.ID, f.Name, f.Role)
		}
		if f.SizeBytes < 0 {
			return fmt.Errorf("catalog: model %q: file %q has negative size", m.ID, f.Name)
		}
	}
	for _, c := range m.Capabilities {
		switch c.Quality {
		case QualityLow, QualityMedium, QualityHigh, QualityUltra, "":
		default:
			return fmt.Errorf("catalog: model %q: unknown quality %q", m.ID, c.Quality)
		}
	}
	return nil
}

// safeName rejects anything that could escape <baseDir>/<modelId>/<fileName>.
func safeName(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	if strings.ContainsAny(s, `/\`) {
		return false
	}
	return filepath.Base(s) == s
}
