// Package services defines shared utilities consumed by the pipeline stage
// collaborators and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp scan job IDs, stage names, and capture
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper, the transient-vs-terminal
//     classifier, and the structured error codes persisted on failed jobs.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
