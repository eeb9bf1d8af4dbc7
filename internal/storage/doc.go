// Package storage provides a minimal persistence layer for the scheduling
// core.
//
// It currently supports:
//   - Audit log appends (execution, publication and task fire outcomes)
//   - A bounded recent-entries query for diagnostics
package storage
