package capability

import (
	"context"
	"fmt"
	"math"
	"slices"

	"modelhost/internal/catalog"
	"modelhost/internal/errs"
	"modelhost/pkg/types"
)

const (
	baseScore    = 40
	primaryBonus = 10
	maxScore     = 100
)

var qualityBonus = map[catalog.Quality]int{
	catalog.QualityLow:    10,
	catalog.QualityMedium: 20,
	catalog.QualityHigh:   30,
	catalog.QualityUltra:  40,
}

var qualitySuccess = map[catalog.Quality]float64{
	catalog.QualityLow:    0.6,
	catalog.QualityMedium: 0.75,
	catalog.QualityHigh:   0.9,
	catalog.QualityUltra:  0.95,
}

var complexityBonus = map[Complexity]int{
	ComplexityLow:    10,
	ComplexityMedium: 5,
}

// baseTimeMs is the processing estimate for a 3B model.
var baseTimeMs = map[Complexity]int64{
	ComplexityLow:    2_000,
	ComplexityMedium: 5_000,
	ComplexityHigh:   15_000,
}

// speedMultiplier scales processing time by model size.
func speedMultiplier(billions float64) float64 {
	switch {
	case billions <= 0:
		return 1
	case billions <= 1.5:
		return 0.5
	case billions <= 3:
		return 1
	case billions <= 8:
		return 1.8
	default:
		return 3
	}
}

func estimateMemoryMB(desc catalog.ModelDescriptor, c Complexity) int {
	base := desc.Hardware.MinVRAMMB
	if base == 0 {
		base = desc.Hardware.MinRAMMB
	}
	return int(math.Round(float64(base) * (1 + 0.15*float64(c))))
}

// MatchFileType reports whether modelID can process files with extension ext
// and how well. It never fails: problems are returned as an unsupported
// match with a reason code and limitations.
func (d *Detector) MatchFileType(ctx context.Context, modelID, ext string) types.FileTypeMatch {
	ext = NormalizeExt(ext)
	m := types.FileTypeMatch{Extension: ext}
	info, known := extensions[ext]
	if !known {
		return reject(m, errs.UnsupportedFileType, fmt.Sprintf("unknown file extension %q", ext))
	}
	m.Type = string(info.typ)

	desc, ok := d.cat.Get(modelID)
	if !ok {
		return reject(m, errs.ModelNotFound, fmt.Sprintf("model %q is not in the catalog", modelID))
	}

	media := info.typ == catalog.CapImage || info.typ == catalog.CapAudio || info.typ == catalog.CapVideo
	if media && !desc.Multimodal {
		return reject(m, errs.UnsupportedFileType,
			fmt.Sprintf("%s lacks multimodal capability; %s input is not supported", desc.Name, info.typ))
	}

	capb, declared := desc.Declares(info.typ)
	if !declared && info.typ == catalog.CapDocument {
		// Documents fall back to text extraction.
		if t, ok := desc.Declares(catalog.CapText); ok {
			capb, declared = t, true
			capb.Primary = false
			capb.Quality = downgrade(t.Quality)
			m.Limitations = append(m.Limitations, "documents are processed as extracted text")
		}
	}
	if !declared {
		return reject(m, errs.UnsupportedFileType, fmt.Sprintf("%s does not declare %s support", desc.Name, info.typ))
	}
	if len(capb.Extensions) > 0 && info.typ != catalog.CapDocument && !slices.Contains(normalized(capb.Extensions), ext) {
		return reject(m, errs.UnsupportedFileType, fmt.Sprintf("%s is not a declared %s format for %s", ext, info.typ, desc.Name))
	}

	if media {
		rt, running := d.Runtime(ctx, modelID)
		switch {
		case !running:
			return reject(m, errs.RuntimeUnavailable, "runtime support unverified: engine is not running this model")
		case info.typ == catalog.CapAudio && !rt.Audio:
			return reject(m, errs.RuntimeUnavailable, "audio is declared but the running engine has no audio projector loaded")
		case info.typ != catalog.CapAudio && !rt.Vision:
			return reject(m, errs.RuntimeUnavailable, fmt.Sprintf("%s is declared but the running engine has no vision projector loaded", info.typ))
		}
	}

	score := baseScore + qualityBonus[capb.Quality] + complexityBonus[info.complexity]
	if capb.Primary {
		score += primaryBonus
	}
	m.Supported = true
	m.Score = min(score, maxScore)
	m.Quality = string(capb.Quality)
	m.EstimatedTimeMs = int64(math.Round(float64(baseTimeMs[info.complexity]) * speedMultiplier(desc.ParameterBillions())))
	m.EstimatedMemoryMB = estimateMemoryMB(desc, info.complexity)
	m.SuccessRate = qualitySuccess[capb.Quality]
	if m.SuccessRate == 0 {
		m.SuccessRate = 0.5
	}
	return m
}

func reject(m types.FileTypeMatch, code errs.Code, limitation string) types.FileTypeMatch {
	m.Supported = false
	m.Score = 0
	m.Reason = string(code)
	m.Limitations = append(m.Limitations, limitation)
	return m
}

func downgrade(q catalog.Quality) catalog.Quality {
	switch q {
	case catalog.QualityUltra:
		return catalog.QualityHigh
	case catalog.QualityHigh:
		return catalog.QualityMedium
	}
	return catalog.QualityLow
}

func normalized(exts []string) []string {
	out := make([]string, len(exts))
	for i, e := range exts {
		out[i] = NormalizeExt(e)
	}
	return out
}
