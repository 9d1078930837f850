package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/regimelab/regimecast/internal/model"
)

// ModelRepo manages the model_registry table. The trainer is the only
// writer; the classifier worker reads the active record.
type ModelRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewModelRepo creates a model registry repository.
func NewModelRepo(db *sqlx.DB, timeout time.Duration) *ModelRepo {
	return &ModelRepo{db: db, timeout: timeout}
}

// Migrate ensures the registry table exists.
func (r *ModelRepo) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS model_registry (
			id         SERIAL PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			algorithm  TEXT        NOT NULL,
			parameters JSONB       NOT NULL,
			is_active  BOOLEAN     NOT NULL DEFAULT FALSE
		)`)
	if err != nil {
		return fmt.Errorf("create model_registry: %w", err)
	}
	return nil
}

// Active loads the currently promoted model, or nil when the registry has
// no active row.
func (r *ModelRepo) Active(ctx context.Context) (*model.ModelRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		rec       model.ModelRecord
		paramsRaw []byte
	)
	err := r.db.QueryRowxContext(ctx, `
		SELECT id, created_at, algorithm, parameters, is_active
		FROM model_registry
		WHERE is_active = TRUE
		ORDER BY created_at DESC
		LIMIT 1`).
		Scan(&rec.ID, &rec.CreatedAt, &rec.Algorithm, &paramsRaw, &rec.IsActive)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query active model: %w", err)
	}

	if err := json.Unmarshal(paramsRaw, &rec.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal model %d parameters: %w", rec.ID, err)
	}
	return &rec, nil
}

// Promote atomically swaps the active model: the old active row is
// deactivated and the new record inserted as active in one transaction,
// so readers see either the old model or the new one, never zero or two.
func (r *ModelRepo) Promote(ctx context.Context, algorithm string, params model.ModelParameters) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("promote model: %w", err)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("promote model: marshal parameters: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("promote model: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE model_registry SET is_active = FALSE WHERE is_active = TRUE`); err != nil {
		return fmt.Errorf("promote model: deactivate: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO model_registry (created_at, algorithm, parameters, is_active)
		VALUES ($1, $2, $3, TRUE)`,
		time.Now().UTC(), algorithm, paramsJSON); err != nil {
		return fmt.Errorf("promote model: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("promote model: commit: %w", err)
	}
	return nil
}
