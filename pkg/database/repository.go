package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hadron-sdlc/hadron/pkg/models"
)

// ErrNotFound is returned when a CR run does not exist.
var ErrNotFound = errors.New("cr run not found")

// ErrDuplicateExternalID is returned by Create when external_id already
// belongs to another run (idx_cr_runs_external_id_unique, migration 000002).
var ErrDuplicateExternalID = errors.New("external_id already exists")

// pgUniqueViolation is the PostgreSQL error code for a unique_violation.
const pgUniqueViolation = "23505"

// CRRepository persists CRRun rows with hand-written SQL against the pgx
// driver — there is no ORM in this design (see DESIGN.md).
type CRRepository struct {
	db *sql.DB
}

// NewCRRepository builds a CRRepository over an open Client.
func NewCRRepository(c *Client) *CRRepository {
	return &CRRepository{db: c.db}
}

// Create inserts a new CR run row with the status set on run.
func (r *CRRepository) Create(ctx context.Context, run *models.CRRun) error {
	rawPayload, err := json.Marshal(run.RawPayload)
	if err != nil {
		return fmt.Errorf("marshal raw payload: %w", err)
	}
	configSnap, err := json.Marshal(run.ConfigSnap)
	if err != nil {
		return fmt.Errorf("marshal config snapshot: %w", err)
	}

	const q = `
		INSERT INTO cr_runs (cr_id, status, external_id, source, raw_payload, config_snapshot, cost_usd, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err = r.db.QueryRowContext(ctx, q,
		run.CRID, run.Status, run.ExternalID, run.Source, rawPayload, configSnap, run.CostUSD, run.LastError,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateExternalID
		}
		return fmt.Errorf("insert cr run: %w", err)
	}
	return nil
}

// GetByExternalID fetches the CR run with the given external_id, used to
// enforce idempotent trigger submissions ahead of the unique index so
// callers can report a 409 without relying on the error shape of a failed
// insert.
func (r *CRRepository) GetByExternalID(ctx context.Context, externalID string) (*models.CRRun, error) {
	const q = `
		SELECT cr_id, status, external_id, source, raw_payload, config_snapshot, cost_usd, last_error, created_at, updated_at
		FROM cr_runs WHERE external_id = $1`

	row := r.db.QueryRowContext(ctx, q, externalID)
	run, err := scanCRRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan cr run: %w", err)
	}
	return run, nil
}

// Get fetches one CR run by id.
func (r *CRRepository) Get(ctx context.Context, crID string) (*models.CRRun, error) {
	const q = `
		SELECT cr_id, status, external_id, source, raw_payload, config_snapshot, cost_usd, last_error, created_at, updated_at
		FROM cr_runs WHERE cr_id = $1`

	row := r.db.QueryRowContext(ctx, q, crID)
	run, err := scanCRRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan cr run: %w", err)
	}
	return run, nil
}

// List returns CR runs ordered newest first, optionally filtered by status.
func (r *CRRepository) List(ctx context.Context, status models.CRStatus, limit, offset int) ([]*models.CRRun, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT cr_id, status, external_id, source, raw_payload, config_snapshot, cost_usd, last_error, created_at, updated_at
			FROM cr_runs ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT cr_id, status, external_id, source, raw_payload, config_snapshot, cost_usd, last_error, created_at, updated_at
			FROM cr_runs WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("query cr runs: %w", err)
	}
	defer rows.Close()

	var out []*models.CRRun
	for rows.Next() {
		run, err := scanCRRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cr run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// UpdateStatus updates status, cost, and error in one statement, bumping
// updated_at. Called by the Worker on status changes and by the Controller
// on resume/terminal transitions.
func (r *CRRepository) UpdateStatus(ctx context.Context, crID string, status models.CRStatus, costUSD float64, lastError string) error {
	const q = `
		UPDATE cr_runs SET status = $2, cost_usd = $3, last_error = $4, updated_at = now()
		WHERE cr_id = $1`
	res, err := r.db.ExecContext(ctx, q, crID, status, costUSD, lastError)
	if err != nil {
		return fmt.Errorf("update cr run status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCRRun(row rowScanner) (*models.CRRun, error) {
	var run models.CRRun
	var rawPayload, configSnap []byte
	if err := row.Scan(
		&run.CRID, &run.Status, &run.ExternalID, &run.Source,
		&rawPayload, &configSnap, &run.CostUSD, &run.LastError,
		&run.CreatedAt, &run.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rawPayload, &run.RawPayload); err != nil {
		return nil, fmt.Errorf("unmarshal raw payload: %w", err)
	}
	if len(configSnap) > 0 {
		if err := json.Unmarshal(configSnap, &run.ConfigSnap); err != nil {
			return nil, fmt.Errorf("unmarshal config snapshot: %w", err)
		}
	}
	return &run, nil
}
