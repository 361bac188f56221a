// Package manager owns the model served by the process. It resolves a model
// from the registry, opens an engine handle on it with the tokenizer and
// sidecar the model directory provides, and turns generate requests into
// engine calls whose steps and results are written as NDJSON.
//
// Files are split by concern:
//
//   - manager.go: Manager type, getters and Close.
//   - config.go: ManagerConfig and defaults.
//   - ensure.go: loading and switching models.
//   - generate.go: request decoding and NDJSON streaming.
//   - status.go: /status reporting.
//   - errors.go: error types and predicates.
package manager
