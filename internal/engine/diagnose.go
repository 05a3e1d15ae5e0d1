package engine

import (
	"strings"

	"modelhost/internal/errs"
)

type signature struct {
	needle string
	code   errs.Code
}

// signatures are checked newest line first; the first hit wins.
var signatures = []signature{
	{"unknown model architecture", errs.IncompatibleArchitecture},
	{"failed to load model", errs.ModelLoadFailed},
	{"error loading model", errs.ModelLoadFailed},
}

// Diagnose turns the output of a process that died during startup into a
// coded error. Unrecognised output yields EngineExited with the most recent
// error-level line.
func Diagnose(lines []LogLine) error {
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.ToLower(lines[i].Message)
		for _, s := range signatures {
			if strings.Contains(l, s.needle) {
				return errs.New(s.code, "%s", strings.TrimSpace(lines[i].Message))
			}
		}
	}
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i].Level == "error" {
			return errs.New(errs.EngineExited, "engine exited during startup: %s", strings.TrimSpace(lines[i].Message))
		}
	}
	return errs.New(errs.EngineExited, "engine exited during startup")
}
