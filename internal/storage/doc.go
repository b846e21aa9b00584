// Package storage provides the persistence layer used by the reminder engine.
//
// It currently supports:
//   - A small key-value area (reminder settings, one-time migration markers)
//   - The caregiving event log queried by the pattern analyzer
//   - Upcoming vaccine schedules
package storage
