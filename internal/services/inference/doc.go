// Package inference talks to the card attribute extraction providers.
//
// Two paths exist: the primary hosted vision model (Path A) and the local
// always-available fallback (Path B). Path A classifies retryable failures,
// retries once internally, then raises a typed fallback signal so the worker
// can switch paths without inspecting error text. Extraction payloads are
// schema-validated before they reach the pipeline.
package inference
