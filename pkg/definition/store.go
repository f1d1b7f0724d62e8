// Package definition implements the process definition store: durable,
// append-only deployment of versioned process graphs and version resolution.
package definition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyr/conveyr/pkg/models"
	"github.com/conveyr/conveyr/pkg/persistence"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidDefinition indicates a deployed document is malformed, either
// structurally or at the graph level. Deploys failing with it are never
// partially applied.
var ErrInvalidDefinition = errors.New("invalid definition")

// Store deploys and resolves process definitions. Version numbers are
// assigned under the store's lock so concurrent deploys of the same process
// id never collide.
type Store struct {
	mu          sync.Mutex
	definitions persistence.DefinitionRepository
	schema      *gojsonschema.Schema
	logger      *slog.Logger
}

func NewStore(definitions persistence.DefinitionRepository, logger *slog.Logger) (*Store, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(rawSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile definition schema: %w", err)
	}

	return &Store{
		definitions: definitions,
		schema:      schema,
		logger:      logger,
	}, nil
}

// Deploy validates raw JSON, assigns the next version for its process id and
// durably appends it. The returned definition is the stored form.
func (s *Store) Deploy(ctx context.Context, raw []byte) (*models.ProcessDefinition, error) {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDefinition, err.Error())
	}

	if !result.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDefinition, result.Errors()[0].String())
	}

	def := &models.ProcessDefinition{}

	err = json.Unmarshal(raw, def)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDefinition, err.Error())
	}

	err = validateGraph(def)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.definitions.LatestVersion(ctx, def.ID)
	if err != nil && !persistence.IsDefinitionNotFound(err) {
		return nil, fmt.Errorf("failed to resolve latest version of %s: %w", def.ID, err)
	}

	def.Version = latest + 1
	def.DeployedAt = time.Now()

	err = s.definitions.SaveDefinition(ctx, def)
	if err != nil {
		return nil, fmt.Errorf("failed to save definition %s: %w", def.ID, err)
	}

	s.logger.InfoContext(ctx, "Deployed process definition", "process_id", def.ID, "version", def.Version)

	return def, nil
}

// Resolve returns the definition for the given id and version. A version of
// zero or less resolves to the latest deployed version.
func (s *Store) Resolve(ctx context.Context, id string, version int) (*models.ProcessDefinition, error) {
	if version <= 0 {
		return s.definitions.LatestDefinition(ctx, id)
	}

	return s.definitions.DefinitionByVersion(ctx, id, version)
}
