// Package services defines shared utilities consumed by the risk pipeline
// components and external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp user IDs, case IDs, component names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     into consistent dispositions (retry vs permanent vs corruption).
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability, retries) stays uniform across components.
package services
