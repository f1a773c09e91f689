// Package storage persists the controller's small amount of durable state:
// an append-only audit trail of rings and operator commands, and a tiny
// key/value table for settings that must survive a power cycle (volume,
// clock offset, last network sync).
package storage
