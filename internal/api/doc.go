// Package api defines the JSON DTOs shared by the HTTP API, the IPC surface,
// and the CLI, plus the converters from the domain models. Domain types never
// cross a process boundary directly.
package api
