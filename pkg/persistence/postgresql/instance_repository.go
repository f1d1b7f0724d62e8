package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/conveyr/conveyr/pkg/models"
	"github.com/conveyr/conveyr/pkg/persistence"
)

// InstanceRepository handles instance-related database operations.
type InstanceRepository struct {
	db *sql.DB
}

func (ir *InstanceRepository) SaveInstance(ctx context.Context, instance *models.ProcessInstance) error {
	vars, err := json.Marshal(instance.Variables)
	if err != nil {
		return &persistence.InstanceError{Op: "Save", Key: instance.Key, Err: err}
	}

	_, err = ir.db.ExecContext(ctx, `
		INSERT INTO process_instances
			(key, definition_id, version, status, current_node_id, variables, failure_reason, created_at, updated_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (key) DO UPDATE SET
			status = EXCLUDED.status,
			current_node_id = EXCLUDED.current_node_id,
			variables = EXCLUDED.variables,
			failure_reason = EXCLUDED.failure_reason,
			updated_at = EXCLUDED.updated_at,
			ended_at = EXCLUDED.ended_at`,
		instance.Key, instance.DefinitionID, instance.Version, instance.Status, instance.CurrentNodeID,
		vars, instance.FailureReason, instance.CreatedAt, instance.UpdatedAt, instance.EndedAt,
	)
	if err != nil {
		return &persistence.InstanceError{Op: "Save", Key: instance.Key, Err: err}
	}

	return nil
}

func (ir *InstanceRepository) InstanceByKey(ctx context.Context, key string) (*models.ProcessInstance, error) {
	row := ir.db.QueryRowContext(ctx, `
		SELECT key, definition_id, version, status, current_node_id, variables, failure_reason, created_at, updated_at, ended_at
		FROM process_instances
		WHERE key = $1`,
		key,
	)

	instance := &models.ProcessInstance{}

	var vars []byte

	err := row.Scan(
		&instance.Key, &instance.DefinitionID, &instance.Version, &instance.Status, &instance.CurrentNodeID,
		&vars, &instance.FailureReason, &instance.CreatedAt, &instance.UpdatedAt, &instance.EndedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &persistence.InstanceError{Op: "ByKey", Key: key, Err: persistence.ErrInstanceNotFound}
	}

	if err != nil {
		return nil, &persistence.InstanceError{Op: "ByKey", Key: key, Err: err}
	}

	err = json.Unmarshal(vars, &instance.Variables)
	if err != nil {
		return nil, &persistence.InstanceError{Op: "ByKey", Key: key, Err: err}
	}

	return instance, nil
}
