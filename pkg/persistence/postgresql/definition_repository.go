package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/conveyr/conveyr/pkg/models"
	"github.com/conveyr/conveyr/pkg/persistence"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// DefinitionRepository handles definition-related database operations. The
// (id, version) primary key enforces append-only semantics: an insert for an
// existing pair fails instead of overwriting.
type DefinitionRepository struct {
	db *sql.DB
}

// graphBlob is the JSONB payload of a definition row; id, version, name and
// deploy time live in their own columns.
type graphBlob struct {
	Nodes []*models.Node `json:"nodes"`
	Edges []*models.Edge `json:"edges"`
}

func (dr *DefinitionRepository) SaveDefinition(ctx context.Context, definition *models.ProcessDefinition) error {
	graph, err := json.Marshal(graphBlob{Nodes: definition.Nodes, Edges: definition.Edges})
	if err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, definition.Version, err)
	}

	_, err = dr.db.ExecContext(ctx, `
		INSERT INTO process_definitions (id, version, name, graph, deployed_at)
		VALUES ($1, $2, $3, $4, $5)`,
		definition.ID, definition.Version, definition.Name, graph, definition.DeployedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return persistence.NewDefinitionError("Save", definition.ID, definition.Version, persistence.ErrVersionExists)
	}

	if err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, definition.Version, err)
	}

	return nil
}

func (dr *DefinitionRepository) DefinitionByVersion(ctx context.Context, id string, version int) (*models.ProcessDefinition, error) {
	row := dr.db.QueryRowContext(ctx, `
		SELECT id, version, name, graph, deployed_at
		FROM process_definitions
		WHERE id = $1 AND version = $2`,
		id, version,
	)

	definition, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewDefinitionError("ByVersion", id, version, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewDefinitionError("ByVersion", id, version, err)
	}

	return definition, nil
}

func (dr *DefinitionRepository) LatestDefinition(ctx context.Context, id string) (*models.ProcessDefinition, error) {
	row := dr.db.QueryRowContext(ctx, `
		SELECT id, version, name, graph, deployed_at
		FROM process_definitions
		WHERE id = $1
		ORDER BY version DESC
		LIMIT 1`,
		id,
	)

	definition, err := scanDefinition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.NewDefinitionError("Latest", id, 0, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewDefinitionError("Latest", id, 0, err)
	}

	return definition, nil
}

func (dr *DefinitionRepository) LatestVersion(ctx context.Context, id string) (int, error) {
	var version int

	err := dr.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM process_definitions WHERE id = $1", id,
	).Scan(&version)
	if err != nil {
		return 0, persistence.NewDefinitionError("LatestVersion", id, 0, err)
	}

	if version == 0 {
		return 0, persistence.NewDefinitionError("LatestVersion", id, 0, persistence.ErrDefinitionNotFound)
	}

	return version, nil
}

func scanDefinition(row *sql.Row) (*models.ProcessDefinition, error) {
	definition := &models.ProcessDefinition{}

	var graph []byte

	err := row.Scan(&definition.ID, &definition.Version, &definition.Name, &graph, &definition.DeployedAt)
	if err != nil {
		return nil, err
	}

	var blob graphBlob

	err = json.Unmarshal(graph, &blob)
	if err != nil {
		return nil, err
	}

	definition.Nodes = blob.Nodes
	definition.Edges = blob.Edges

	return definition, nil
}
