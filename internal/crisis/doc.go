// Package crisis defines the escalation domain model (tiers, cases,
// intervention attempts, safety plans, audit records) and the SQLite store
// that persists it. The store is the single durable source of truth; hot
// in-memory state elsewhere in the engine is always reconstructable from it.
package crisis
