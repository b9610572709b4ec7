// Package ipc exposes daemon control over JSON-RPC on a Unix domain socket.
// The CLI is the primary client; the HTTP API covers programmatic callers.
package ipc
