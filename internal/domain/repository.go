// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for case persistence.
type Repository interface {
	// Case operations
	SaveCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, caseID string) (*Case, error)
	ListCases(ctx context.Context, limit int) ([]*Case, error)
	ApproveCase(ctx context.Context, caseID, analyst, editedNarrative string) (*Case, error)
	RejectCase(ctx context.Context, caseID, analyst, reason string) (*Case, error)
	CountCasesByAccount(ctx context.Context, accountNumber string, since time.Time) (int, error)
	Stats(ctx context.Context) (*CaseStats, error)

	// Audit log operations
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	GetAuditTrail(ctx context.Context, caseID string) ([]*AuditEntry, error)

	// Template index mirror
	UpsertTemplate(ctx context.Context, t ReferenceTemplate) error
	ListTemplates(ctx context.Context) ([]ReferenceTemplate, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
