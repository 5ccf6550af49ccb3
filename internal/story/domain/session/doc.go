// Package session defines the story session aggregate: its lifecycle state
// machine, the append-only choice history, and per-axis compass tracking.
//
// Lifecycle transitions (pause, resume, end) apply quietly when their
// preconditions do not hold. Player-action mutations such as recording a
// choice fail loudly with a state violation naming the offending status.
package session
