// Package notify implements the delivery edge of the engine: per-medium
// channel adapters invoked by the dispatcher, and the operator pager used for
// state corruption and mandatory-review alerts.
package notify
