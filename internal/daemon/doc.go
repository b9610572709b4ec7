// Package daemon hosts the long-running vigil process: single-instance
// locking, the engine lifecycle, the internal HTTP API, and the facade the
// IPC surface calls into.
package daemon
