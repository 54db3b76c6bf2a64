// Package domain defines the core interfaces and types for Merlin.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	GetTransactionsByAccount(ctx context.Context, accountID string, since time.Time) ([]*Transaction, error)

	// Risk assessment audit trail
	SaveAssessment(ctx context.Context, a *RiskAssessment) error
	GetAssessment(ctx context.Context, id string) (*RiskAssessment, error)
	GetAssessmentsByAccount(ctx context.Context, accountID string, since time.Time) ([]*RiskAssessment, error)

	// Alert case management
	SaveAlert(ctx context.Context, alert *Alert) error
	GetAlert(ctx context.Context, id string) (*Alert, error)
	GetAlertByTransaction(ctx context.Context, txID string) (*Alert, error)
	ListAlertsByStatus(ctx context.Context, status AlertStatus, limit int) ([]*Alert, error)

	// Engine configuration snapshots
	SaveEngineConfig(ctx context.Context, cfg *EngineConfig) error
	GetEngineConfig(ctx context.Context, version string) (*EngineConfig, error)
	GetLatestEngineConfig(ctx context.Context) (*EngineConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
