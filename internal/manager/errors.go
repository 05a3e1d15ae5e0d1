package manager

import "modelhost/internal/errs"

// IsNotReady reports whether err rejected a request because the service is
// not in the ready state.
func IsNotReady(err error) bool { return errs.Is(err, errs.NotReady) }

// IsNoModelSelected reports whether no model could be selected.
func IsNoModelSelected(err error) bool { return errs.Is(err, errs.NoModelSelected) }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool { return errs.Is(err, errs.ModelNotFound) }

// IsTooBusy reports whether err indicates backpressure (return 429).
func IsTooBusy(err error) bool { return errs.Is(err, errs.TooBusy) }

// IsInvalidResponse reports whether the engine output could not be repaired.
func IsInvalidResponse(err error) bool { return errs.Is(err, errs.InvalidResponse) }
