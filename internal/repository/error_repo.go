package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"nycmg-backend/internal/apperr"
	"nycmg-backend/internal/models"
)

// dbtx is the part of *pgxpool.Pool the repository uses.
type dbtx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ErrorRepo is the durable copy of error records. Rows are inserted once;
// only the analysis is ever replaced.
type ErrorRepo struct {
	pool dbtx
}

func NewErrorRepo(pool dbtx) *ErrorRepo {
	return &ErrorRepo{pool: pool}
}

func (r *ErrorRepo) Insert(ctx context.Context, rec *models.ErrorRecord) error {
	contextBytes, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("marshal error context: %w", err)
	}
	analysisBytes, err := json.Marshal(rec.AIAnalysis)
	if err != nil {
		return fmt.Errorf("marshal ai analysis: %w", err)
	}

	query := `INSERT INTO error_records (id, message, stack, kind, code, severity, fingerprint, context_json, analysis_json, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	_, err = r.pool.Exec(ctx, query,
		rec.ID, rec.Message, rec.Stack, string(rec.Kind), rec.Code, string(rec.Severity),
		rec.Fingerprint, contextBytes, analysisBytes, rec.Timestamp,
	)
	return err
}

// UpdateAnalysis stores a fresh analysis for an archived record. It returns
// pgx.ErrNoRows when the record is not archived.
func (r *ErrorRepo) UpdateAnalysis(ctx context.Context, id uuid.UUID, analysis models.AIAnalysis) error {
	analysisBytes, err := json.Marshal(analysis)
	if err != nil {
		return fmt.Errorf("marshal ai analysis: %w", err)
	}

	tag, err := r.pool.Exec(ctx, "UPDATE error_records SET analysis_json = $2 WHERE id = $1", id, analysisBytes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ErrorRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.ErrorRecord, error) {
	query := `SELECT id, message, stack, kind, code, severity, fingerprint, context_json, analysis_json, occurred_at
		FROM error_records WHERE id = $1`

	return scanRecord(r.pool.QueryRow(ctx, query, id))
}

func (r *ErrorRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM error_records").Scan(&n)
	return n, err
}

func (r *ErrorRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, "DELETE FROM error_records WHERE occurred_at < $1", cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRecord(row pgx.Row) (*models.ErrorRecord, error) {
	rec := &models.ErrorRecord{}
	var kind, severity string
	var contextBytes, analysisBytes []byte

	err := row.Scan(
		&rec.ID, &rec.Message, &rec.Stack, &kind, &rec.Code, &severity,
		&rec.Fingerprint, &contextBytes, &analysisBytes, &rec.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = apperr.Kind(kind)
	rec.Severity = apperr.Severity(severity)
	if len(contextBytes) > 0 {
		if err := json.Unmarshal(contextBytes, &rec.Context); err != nil {
			return nil, fmt.Errorf("decode error context: %w", err)
		}
	}
	if len(analysisBytes) > 0 {
		if err := json.Unmarshal(analysisBytes, &rec.AIAnalysis); err != nil {
			return nil, fmt.Errorf("decode ai analysis: %w", err)
		}
	}
	return rec, nil
}
