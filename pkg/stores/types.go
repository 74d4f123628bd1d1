package stores

import (
	"time"
)

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// MutationRecord is one applied dependency mutation, kept alongside the
// launch it mutated so a session's environment history can be reconstructed.
type MutationRecord struct {
	// ID is the auto-generated row ID.
	ID int64 `json:"id"`

	// LaunchID references the launch whose environment was mutated.
	LaunchID string `json:"launch_id"`

	// Strategy records how the mutation was applied.
	Strategy string `json:"strategy"`

	// Specifiers is the requested dependency set, one specifier per line.
	Specifiers string `json:"specifiers"`

	// Source records where the request originated.
	Source string `json:"source"`

	// AppliedAt is when the mutation completed.
	AppliedAt time.Time `json:"applied_at"`
}
