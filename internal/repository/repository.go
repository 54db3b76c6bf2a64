// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction. Saving the same id again is a no-op:
// transactions are immutable once scored.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, account_id, amount_minor, currency,
			merchant_id, merchant_name, merchant_category, merchant_country,
			channel, home_country, timestamp, created_at,
			device_id, ip_address, city
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.AccountID, tx.AmountMinor, tx.Currency,
		tx.MerchantID, tx.MerchantName, tx.MerchantCategory, tx.MerchantCountry,
		string(tx.Channel), tx.HomeCountry, tx.Timestamp, tx.CreatedAt,
		tx.DeviceID, tx.IPAddress, tx.City,
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, account_id, amount_minor, currency,
			   merchant_id, merchant_name, merchant_category, merchant_country,
			   channel, home_country, timestamp, created_at,
			   device_id, ip_address, city
		FROM transactions
		WHERE id = ?
	`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %s", domain.ErrNotFound, txID)
	}
	return tx, err
}

// GetTransactionsByAccount retrieves an account's transactions since a time,
// newest first.
func (r *SQLRepository) GetTransactionsByAccount(ctx context.Context, accountID string, since time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT id, account_id, amount_minor, currency,
			   merchant_id, merchant_name, merchant_category, merchant_country,
			   channel, home_country, timestamp, created_at,
			   device_id, ip_address, city
		FROM transactions
		WHERE account_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), accountID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var channel string
	err := row.Scan(
		&tx.ID, &tx.AccountID, &tx.AmountMinor, &tx.Currency,
		&tx.MerchantID, &tx.MerchantName, &tx.MerchantCategory, &tx.MerchantCountry,
		&channel, &tx.HomeCountry, &tx.Timestamp, &tx.CreatedAt,
		&tx.DeviceID, &tx.IPAddress, &tx.City,
	)
	if err != nil {
		return nil, err
	}
	tx.Channel = domain.Channel(channel)
	return &tx, nil
}

// SaveAssessment stores a risk assessment in the audit trail.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.RiskAssessment) error {
	reasons, _ := json.Marshal(a.Reasons)
	ens, _ := json.Marshal(a.Ensemble)
	ruleResults, _ := json.Marshal(a.RuleResults)

	query := `
		INSERT INTO assessments (
			id, tx_id, account_id, score, decision, severity,
			reasons, rule_score, ensemble, rule_results,
			config_version, model_version, timestamp, trace_id, process_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.TxID, a.AccountID, a.Score, string(a.Decision), string(a.Severity),
		string(reasons), a.RuleScore, string(ens), string(ruleResults),
		a.ConfigVersion, a.ModelVersion, a.Timestamp, a.TraceID, a.ProcessMs,
	)
	return err
}

// GetAssessment retrieves a risk assessment by ID.
func (r *SQLRepository) GetAssessment(ctx context.Context, id string) (*domain.RiskAssessment, error) {
	query := assessmentSelect + ` WHERE id = ?`

	a, err := scanAssessment(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: assessment %s", domain.ErrNotFound, id)
	}
	return a, err
}

// GetAssessmentsByAccount retrieves an account's assessments since a time,
// newest first.
func (r *SQLRepository) GetAssessmentsByAccount(ctx context.Context, accountID string, since time.Time) ([]*domain.RiskAssessment, error) {
	query := assessmentSelect + ` WHERE account_id = ? AND timestamp >= ? ORDER BY timestamp DESC`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), accountID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []*domain.RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, a)
	}
	return assessments, rows.Err()
}

const assessmentSelect = `
	SELECT id, tx_id, account_id, score, decision, severity,
		   reasons, rule_score, ensemble, rule_results,
		   config_version, model_version, timestamp, trace_id, process_ms
	FROM assessments
`

func scanAssessment(row rowScanner) (*domain.RiskAssessment, error) {
	var a domain.RiskAssessment
	var decision, severity, reasons, ens, ruleResults string
	err := row.Scan(
		&a.ID, &a.TxID, &a.AccountID, &a.Score, &decision, &severity,
		&reasons, &a.RuleScore, &ens, &ruleResults,
		&a.ConfigVersion, &a.ModelVersion, &a.Timestamp, &a.TraceID, &a.ProcessMs,
	)
	if err != nil {
		return nil, err
	}
	a.Decision = domain.Decision(decision)
	a.Severity = domain.Severity(severity)
	json.Unmarshal([]byte(reasons), &a.Reasons)
	json.Unmarshal([]byte(ens), &a.Ensemble)
	json.Unmarshal([]byte(ruleResults), &a.RuleResults)
	return &a, nil
}

// SaveAlert stores or updates an alert.
func (r *SQLRepository) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	assessment, _ := json.Marshal(alert.Assessment)

	query := `
		INSERT INTO alerts (
			id, tx_id, account_id, assessment, status, severity,
			assignee, resolution_notes, created_at, updated_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			assignee = excluded.assignee,
			resolution_notes = excluded.resolution_notes,
			updated_at = excluded.updated_at,
			closed_at = excluded.closed_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, alert.TxID, alert.AccountID, string(assessment),
		string(alert.Status), string(alert.Severity),
		alert.Assignee, alert.ResolutionNotes,
		alert.CreatedAt, alert.UpdatedAt, alert.ClosedAt,
	)
	return err
}

// GetAlert retrieves an alert by ID.
func (r *SQLRepository) GetAlert(ctx context.Context, id string) (*domain.Alert, error) {
	query := alertSelect + ` WHERE id = ?`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: alert %s", domain.ErrNotFound, id)
	}
	return alert, err
}

// GetAlertByTransaction retrieves the alert opened for a transaction.
func (r *SQLRepository) GetAlertByTransaction(ctx context.Context, txID string) (*domain.Alert, error) {
	query := alertSelect + ` WHERE tx_id = ?`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no alert for transaction %s", domain.ErrNotFound, txID)
	}
	return alert, err
}

// ListAlertsByStatus retrieves alerts in a status, newest first.
func (r *SQLRepository) ListAlertsByStatus(ctx context.Context, status domain.AlertStatus, limit int) ([]*domain.Alert, error) {
	query := alertSelect + ` WHERE status = ? ORDER BY created_at DESC`
	args := []any{string(status)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

const alertSelect = `
	SELECT id, tx_id, account_id, assessment, status, severity,
		   assignee, resolution_notes, created_at, updated_at, closed_at
	FROM alerts
`

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var alert domain.Alert
	var assessment, status, severity string
	var closedAt sql.NullTime
	err := row.Scan(
		&alert.ID, &alert.TxID, &alert.AccountID, &assessment, &status, &severity,
		&alert.Assignee, &alert.ResolutionNotes,
		&alert.CreatedAt, &alert.UpdatedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}
	alert.Status = domain.AlertStatus(status)
	alert.Severity = domain.Severity(severity)
	if closedAt.Valid {
		t := closedAt.Time
		alert.ClosedAt = &t
	}
	json.Unmarshal([]byte(assessment), &alert.Assessment)
	return &alert, nil
}

// SaveEngineConfig stores a configuration snapshot keyed by version.
func (r *SQLRepository) SaveEngineConfig(ctx context.Context, cfg *domain.EngineConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO engine_configs (version, config, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(version) DO UPDATE SET config = excluded.config
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query), cfg.Version, string(data), time.Now().UTC())
	return err
}

// GetEngineConfig retrieves a configuration snapshot by version.
func (r *SQLRepository) GetEngineConfig(ctx context.Context, version string) (*domain.EngineConfig, error) {
	query := `SELECT config FROM engine_configs WHERE version = ?`

	var data string
	err := r.db.QueryRowContext(ctx, r.rebind(query), version).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: engine config %s", domain.ErrNotFound, version)
	}
	if err != nil {
		return nil, err
	}

	var cfg domain.EngineConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse engine config %s: %w", version, err)
	}
	return &cfg, nil
}

// GetLatestEngineConfig retrieves the most recently saved configuration.
func (r *SQLRepository) GetLatestEngineConfig(ctx context.Context) (*domain.EngineConfig, error) {
	query := `SELECT config FROM engine_configs ORDER BY created_at DESC LIMIT 1`

	var data string
	err := r.db.QueryRowContext(ctx, query).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no engine config saved", domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var cfg domain.EngineConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse latest engine config: %w", err)
	}
	return &cfg, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
