// Package repository provides case book persistence on SQLite or PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("case is not in DRAFT status")
)

// DefaultListLimit bounds ListCases when no limit is given.
const DefaultListLimit = 100

var _ domain.Repository = (*SQLRepository)(nil)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration and runs migrations.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
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

	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != memoryPath {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := NewFromDB(db, cfg.Driver)
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// NewFromDB wraps an open database handle without running migrations.
func NewFromDB(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: db, driver: driver}
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		for _, stmt := range strings.Split(schema, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := r.db.Exec(stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

// SaveCase inserts a new case.
func (r *SQLRepository) SaveCase(ctx context.Context, c *domain.Case) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: case ID is required", ErrInvalidInput)
	}
	if c.Status == "" {
		c.Status = domain.CaseDraft
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO cases (
			id, customer_name, account_number, transactions, sar_narrative,
			status, risk_score, typology, priority, fallback, analyst_name, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.CustomerName, c.AccountNumber, c.Transactions, c.Narrative,
		c.Status, c.RiskScore, c.Typology, c.Priority, boolToInt(c.Fallback), c.AnalystName,
		c.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save case: %w", err)
	}
	return nil
}

const caseColumns = `
	id, customer_name, account_number, transactions, sar_narrative, edited_narrative,
	status, risk_score, typology, priority, fallback, analyst_name,
	created_at, decided_at, decided_by, reject_reason
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*domain.Case, error) {
	var c domain.Case
	var fallback int
	var decidedAt sql.NullTime

	if err := row.Scan(
		&c.ID, &c.CustomerName, &c.AccountNumber, &c.Transactions, &c.Narrative, &c.EditedNarrative,
		&c.Status, &c.RiskScore, &c.Typology, &c.Priority, &fallback, &c.AnalystName,
		&c.CreatedAt, &decidedAt, &c.DecidedBy, &c.RejectReason,
	); err != nil {
		return nil, err
	}

	c.Fallback = fallback == 1
	if decidedAt.Valid {
		t := decidedAt.Time
		c.DecidedAt = &t
	}
	return &c, nil
}

// GetCase retrieves a case by ID.
func (r *SQLRepository) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	query := `SELECT ` + caseColumns + ` FROM cases WHERE id = ?`

	c, err := scanCase(r.db.QueryRowContext(ctx, r.rebind(query), caseID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get case: %w", err)
	}
	return c, nil
}

// ListCases returns the most recent cases first.
func (r *SQLRepository) ListCases(ctx context.Context, limit int) ([]*domain.Case, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT ` + caseColumns + ` FROM cases ORDER BY created_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	defer rows.Close()

	cases := []*domain.Case{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	return cases, rows.Err()
}

// ApproveCase moves a DRAFT case to APPROVED, storing the analyst's edit.
func (r *SQLRepository) ApproveCase(ctx context.Context, caseID, analyst, editedNarrative string) (*domain.Case, error) {
	query := `
		UPDATE cases
		SET status = ?, edited_narrative = ?, decided_at = ?, decided_by = ?
		WHERE id = ? AND status = ?
	`
	return r.decide(ctx, caseID, query, domain.CaseApproved, editedNarrative, time.Now().UTC(), analyst, caseID, domain.CaseDraft)
}

// RejectCase moves a DRAFT case to REJECTED.
func (r *SQLRepository) RejectCase(ctx context.Context, caseID, analyst, reason string) (*domain.Case, error) {
	query := `
		UPDATE cases
		SET status = ?, reject_reason = ?, decided_at = ?, decided_by = ?
		WHERE id = ? AND status = ?
	`
	return r.decide(ctx, caseID, query, domain.CaseRejected, reason, time.Now().UTC(), analyst, caseID, domain.CaseDraft)
}

func (r *SQLRepository) decide(ctx context.Context, caseID, query string, args ...any) (*domain.Case, error) {
	result, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update case: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// Either the case does not exist or it was already decided.
		if _, err := r.GetCase(ctx, caseID); err != nil {
			return nil, err
		}
		return nil, ErrInvalidState
	}

	return r.GetCase(ctx, caseID)
}

// CountCasesByAccount counts cases for an account created at or after since.
func (r *SQLRepository) CountCasesByAccount(ctx context.Context, accountNumber string, since time.Time) (int, error) {
	if accountNumber == "" {
		return 0, fmt.Errorf("%w: account number is required", ErrInvalidInput)
	}

	query := `SELECT COUNT(*) FROM cases WHERE account_number = ? AND created_at >= ?`

	var count int
	if err := r.db.QueryRowContext(ctx, r.rebind(query), accountNumber, since.UTC()).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count cases: %w", err)
	}
	return count, nil
}

// Stats summarizes the case book.
func (r *SQLRepository) Stats(ctx context.Context) (*domain.CaseStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN risk_score >= ? THEN 1 ELSE 0 END), 0)
		FROM cases
	`

	var s domain.CaseStats
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		domain.CaseDraft, domain.CaseApproved, domain.CaseRejected, domain.HighRiskThreshold,
	).Scan(&s.Total, &s.Draft, &s.Approved, &s.Rejected, &s.HighRisk)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return &s, nil
}

// AppendAudit adds an entry to the audit log. Entries are never updated.
func (r *SQLRepository) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	if entry == nil || entry.CaseID == "" || entry.Action == "" {
		return fmt.Errorf("%w: case ID and action are required", ErrInvalidInput)
	}
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_log (id, case_id, action, analyst, detail, data_used, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		entry.ID, entry.CaseID, entry.Action, entry.Analyst, entry.Detail, entry.DataUsed, entry.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// GetAuditTrail returns a case's audit entries in chronological order.
func (r *SQLRepository) GetAuditTrail(ctx context.Context, caseID string) ([]*domain.AuditEntry, error) {
	query := `
		SELECT id, case_id, action, analyst, detail, data_used, timestamp
		FROM audit_log
		WHERE case_id = ?
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), caseID)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit trail: %w", err)
	}
	defer rows.Close()

	entries := []*domain.AuditEntry{}
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Action, &e.Analyst, &e.Detail, &e.DataUsed, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// UpsertTemplate stores a reference template keyed by ID.
func (r *SQLRepository) UpsertTemplate(ctx context.Context, t domain.ReferenceTemplate) error {
	if t.ID == "" {
		return fmt.Errorf("%w: template ID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO sar_templates (id, typology, title, body, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			typology = excluded.typology,
			title = excluded.title,
			body = excluded.body,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), t.ID, t.Typology, t.Title, t.Body, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert template %s: %w", t.ID, err)
	}
	return nil
}

// ListTemplates returns the stored templates ordered by ID.
func (r *SQLRepository) ListTemplates(ctx context.Context) ([]domain.ReferenceTemplate, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, typology, title, body FROM sar_templates ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	templates := []domain.ReferenceTemplate{}
	for rows.Next() {
		var t domain.ReferenceTemplate
		if err := rows.Scan(&t.ID, &t.Typology, &t.Title, &t.Body); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
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

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
