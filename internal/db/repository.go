package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/lalithlochan/medreminder/internal/medication"
	"github.com/lalithlochan/medreminder/internal/store"
)

// querier is the subset of pgxpool.Pool the repository needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OverrideRepository stores schedule overrides in Postgres.
type OverrideRepository struct {
	q      querier
	logger *zap.Logger
	now    func() time.Time
}

var _ store.OverrideStore = (*OverrideRepository)(nil)

// NewOverrideRepository creates a repository on db's pool.
func NewOverrideRepository(db *DB, logger *zap.Logger) *OverrideRepository {
	return &OverrideRepository{
		q:      db.Pool(),
		logger: logger,
		now:    time.Now,
	}
}

const overrideColumns = `medication_id, frequency, slots, active, notes, updated_at`

func scanOverride(row pgx.Row) (OverrideRow, error) {
	var r OverrideRow
	err := row.Scan(&r.MedicationID, &r.Frequency, &r.Slots, &r.Active, &r.Notes, &r.UpdatedAt)
	return r, err
}

// GetOverride returns the override for medicationID, or nil when there is none.
func (r *OverrideRepository) GetOverride(ctx context.Context, medicationID string) (*medication.Override, error) {
	row, err := scanOverride(r.q.QueryRow(ctx,
		`SELECT `+overrideColumns+` FROM schedule_overrides WHERE medication_id = $1`,
		medicationID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get override %s: %w", medicationID, err)
	}
	o := row.Override()
	return &o, nil
}

// PutOverride inserts or replaces the override for o.MedicationID.
func (r *OverrideRepository) PutOverride(ctx context.Context, o medication.Override) error {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = r.now().UTC()
	}
	row := RowFromOverride(o)

	_, err := r.q.Exec(ctx, `
		INSERT INTO schedule_overrides (`+overrideColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (medication_id) DO UPDATE SET
			frequency = EXCLUDED.frequency,
			slots = EXCLUDED.slots,
			active = EXCLUDED.active,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
	`, row.MedicationID, row.Frequency, row.Slots, row.Active, row.Notes, row.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to save override",
			zap.Error(err),
			zap.String("medication_id", o.MedicationID),
		)
		return fmt.Errorf("upsert override %s: %w", o.MedicationID, err)
	}

	r.logger.Info("schedule override saved", zap.String("medication_id", o.MedicationID))
	return nil
}

// DeleteOverride removes the override for medicationID. Deleting a missing
// override is not an error.
func (r *OverrideRepository) DeleteOverride(ctx context.Context, medicationID string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM schedule_overrides WHERE medication_id = $1`, medicationID); err != nil {
		return fmt.Errorf("delete override %s: %w", medicationID, err)
	}
	return nil
}

// ListOverrides returns every override ordered by medication id.
func (r *OverrideRepository) ListOverrides(ctx context.Context) ([]medication.Override, error) {
	rows, err := r.q.Query(ctx, `SELECT `+overrideColumns+` FROM schedule_overrides ORDER BY medication_id`)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	overrides := []medication.Override{}
	for rows.Next() {
		row, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}
		overrides = append(overrides, row.Override())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overrides: %w", err)
	}
	return overrides, nil
}
