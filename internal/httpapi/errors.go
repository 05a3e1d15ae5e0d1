package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"modelhost/internal/errs"
	"modelhost/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// codeStatus maps reason codes to HTTP status codes.
var codeStatus = map[errs.Code]int{
	errs.NotReady:                 http.StatusServiceUnavailable,
	errs.EngineUnavailable:        http.StatusServiceUnavailable,
	errs.NoModelSelected:          http.StatusConflict,
	errs.AlreadyDownloading:       http.StatusConflict,
	errs.ModelFileMissing:         http.StatusConflict,
	errs.ModelNotFound:            http.StatusNotFound,
	errs.UnsupportedFileType:      http.StatusUnprocessableEntity,
	errs.RuntimeUnavailable:       http.StatusUnprocessableEntity,
	errs.InvalidResponse:          http.StatusUnprocessableEntity,
	errs.IncompatibleArchitecture: http.StatusUnprocessableEntity,
	errs.ModelLoadFailed:          http.StatusUnprocessableEntity,
	errs.TooBusy:                  http.StatusTooManyRequests,
	errs.StartupTimeout:           http.StatusGatewayTimeout,
	errs.InvalidConfig:            http.StatusBadRequest,
}

// statusFor picks the HTTP status for err. Unknown errors are 500.
func statusFor(err error) int {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if s, ok := codeStatus[errs.CodeOf(err)]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeError(w, status, "", msg)
}

func writeError(w http.ResponseWriter, status int, reason errs.Code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Reason: string(reason), Code: status})
}

// writeErr maps err to a status and writes it with its reason code.
func writeErr(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure(string(errs.CodeOf(err)))
	}
	writeError(w, status, errs.CodeOf(err), err.Error())
	return status
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logError("encode_failed", err)
	}
}
