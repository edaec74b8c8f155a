// Package storage is the repository behind the reminder scheduler.
//
// It persists owners, supplements and the notification log. Two drivers are
// available: "sqlite" (modernc.org/sqlite, pure Go) and "memory" (process-local,
// used by tests and dry runs).
package storage
