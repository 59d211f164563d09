package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"ramp/internal/models"
	"ramp/internal/ramperr"
)

// rampRow is the persisted checkpoint layout: key columns plus the full
// RampState as a JSON blob.
type rampRow struct {
	ID        string `db:"id"`
	Direction string `db:"direction"`
	Phase     string `db:"phase"`
	State     []byte `db:"state"`
}

// SaveRampState persists a checkpoint, inserting or replacing the row for
// the saga instance.
func (db *DB) SaveRampState(ctx context.Context, state *models.RampState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal ramp state: %w", err)
	}

	query := `
		INSERT INTO ramp_states (id, direction, phase, state, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET phase = EXCLUDED.phase, state = EXCLUDED.state, updated_at = NOW()
	`
	if _, err := db.ExecContext(ctx, query, state.ID, state.Direction, state.Phase, blob); err != nil {
		return fmt.Errorf("failed to save ramp state: %w", err)
	}
	return nil
}

// LoadRampState retrieves a checkpoint by saga id. A missing row returns
// (nil, nil).
func (db *DB) LoadRampState(ctx context.Context, id string) (*models.RampState, error) {
	var row rampRow
	query := `SELECT id, direction, phase, state FROM ramp_states WHERE id = $1`
	err := db.GetContext(ctx, &row, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load ramp state: %w", err)
	}
	return decodeRow(&row)
}

// DeleteRampState removes a checkpoint after cleanup or user abandonment.
func (db *DB) DeleteRampState(ctx context.Context, id string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM ramp_states WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete ramp state: %w", err)
	}
	return nil
}

// ListActiveRampStates returns every checkpoint whose phase is not terminal,
// oldest first. The worker uses this to resume after a restart.
func (db *DB) ListActiveRampStates(ctx context.Context) ([]*models.RampState, error) {
	var rows []rampRow
	query := `
		SELECT id, direction, phase, state
		FROM ramp_states
		WHERE phase NOT IN ($1, $2)
		ORDER BY created_at ASC
	`
	if err := db.SelectContext(ctx, &rows, query, models.PhaseSuccess, models.PhaseFailed); err != nil {
		return nil, fmt.Errorf("failed to list active ramp states: %w", err)
	}

	states := make([]*models.RampState, 0, len(rows))
	for i := range rows {
		state, err := decodeRow(&rows[i])
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

func decodeRow(row *rampRow) (*models.RampState, error) {
	var state models.RampState
	if err := json.Unmarshal(row.State, &state); err != nil {
		return nil, ramperr.Fatal(ramperr.CheckpointCorrupt,
			fmt.Sprintf("checkpoint %s does not decode", row.ID), err)
	}
	if !state.Phase.Valid() {
		return nil, ramperr.Fatal(ramperr.CheckpointCorrupt,
			fmt.Sprintf("checkpoint %s has unknown phase %q", row.ID, state.Phase), nil)
	}
	// Column and blob are written in one statement; disagreement means the
	// row was tampered with or a migration went wrong.
	if string(state.Phase) != row.Phase {
		return nil, ramperr.Fatal(ramperr.CheckpointCorrupt,
			fmt.Sprintf("checkpoint %s phase column %q disagrees with blob %q", row.ID, row.Phase, state.Phase), nil)
	}
	return &state, nil
}
