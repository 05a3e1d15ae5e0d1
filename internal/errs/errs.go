// Package errs defines the reason codes shared by the lifecycle components.
// Every rejection surfaced to callers carries one of these codes so the UI
// can offer a distinct remediation per failure.
package errs

import (
	"errors"
	"fmt"
)

// Code is a stable, locale-independent reason code.
type Code string

const (
	NotReady                 Code = "NotReady"
	NoModelSelected          Code = "NoModelSelected"
	ModelNotFound            Code = "ModelNotFound"
	ModelFileMissing         Code = "ModelFileMissing"
	IncompatibleArchitecture Code = "IncompatibleArchitecture"
	ModelLoadFailed          Code = "ModelLoadFailed"
	StartupTimeout           Code = "StartupTimeout"
	EngineExited             Code = "EngineExited"
	EngineUnavailable        Code = "EngineUnavailable"
	AlreadyDownloading       Code = "AlreadyDownloading"
	DownloadFailed           Code = "DownloadFailed"
	DownloadCanceled         Code = "DownloadCanceled"
	ChecksumMismatch         Code = "ChecksumMismatch"
	UnsupportedFileType      Code = "UnsupportedFileType"
	RuntimeUnavailable       Code = "RuntimeUnavailable"
	InferenceFailed          Code = "InferenceFailed"
	TooBusy                  Code = "TooBusy"
	InvalidResponse          Code = "InvalidResponse"
	InvalidConfig            Code = "InvalidConfig"
	Internal                 Code = "Internal"
)

// Error is a coded error. Msg is the human-readable part; Err is optional.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a coded error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to err. A nil err yields nil.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf returns the outermost code found in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries code anywhere in its chain.
func Is(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}
