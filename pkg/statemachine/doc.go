// Package statemachine is a small bbolt-backed key/value wal.StateMachine,
// the application a Node replicates in the demo binary. Commands are JSON-encoded {op, key, value} triples
// carried as a log entry's payload.
package statemachine
