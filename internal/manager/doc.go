// Package manager is the service orchestrator: it owns the service state
// machine that gates inference, decides which model to run and drives the
// engine supervisor. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, simple getters.
//   - config.go: ManagerConfig, collaborator interfaces and package defaults.
//   - types.go: State, display status and Snapshot.
//   - errors.go: predicates over reason codes (IsNotReady, IsTooBusy, ...).
//   - events.go: status-changed publication.
//   - ensure.go: EnsureReady and the single in-flight initialization.
//   - ops.go: Reinitialize and SwitchModel.
//   - infer.go: RequestInference, timeout clamping and result repair.
//   - admission.go: file-type admission and the engine request queue.
//   - repair.go: JSON extraction from free-form model output.
//   - status_report.go: Snapshot/Status reporting and the outcome ring.
//   - sanity.go: engine binary and models dir checks.
//   - unload.go: Close.
//
// Missing or unstartable models are not failures: the orchestrator becomes
// ready in a degraded status and reports why. Only unexpected faults during
// initialization move it to the error state.
package manager
