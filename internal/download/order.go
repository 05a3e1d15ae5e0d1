package download

import (
	"sort"

	"modelhost/internal/catalog"
)

// rank orders files: required model weights, then projectors, then other
// required files, then optional ones.
func rank(f catalog.FileSpec) int {
	switch {
	case f.Required && f.Role == catalog.RoleModel:
		return 0
	case f.Role == catalog.RoleProjector:
		return 1
	case f.Required:
		return 2
	default:
		return 3
	}
}

// Order returns files in download priority order. Ties keep declaration order.
func Order(files []catalog.FileSpec) []catalog.FileSpec {
	out := append([]catalog.FileSpec(nil), files...)
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}
