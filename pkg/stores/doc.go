// Package stores provides the persistence layer for kernel launch history.
// It includes SQLite-based storage with WAL mode, connection pooling,
// embedded migrations, and records for launches and the dependency
// mutations applied during them.
package stores
