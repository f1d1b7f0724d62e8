package file

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/conveyr/conveyr/pkg/models"
	"github.com/conveyr/conveyr/pkg/persistence"
)

// DefinitionRepository handles definition-related file operations. Files are
// laid out as definitions/<process id>/<version>.json, one file per version,
// append-only.
type DefinitionRepository struct {
	persistence *Persistence
}

func (dr *DefinitionRepository) path(id string, version int) string {
	return filepath.Join(dr.persistence.root, "definitions", id, strconv.Itoa(version)+".json")
}

func (dr *DefinitionRepository) SaveDefinition(_ context.Context, definition *models.ProcessDefinition) error {
	dr.persistence.mu.Lock()
	defer dr.persistence.mu.Unlock()

	path := dr.path(definition.ID, definition.Version)

	if _, err := os.Stat(path); err == nil {
		return persistence.NewDefinitionError("Save", definition.ID, definition.Version, persistence.ErrVersionExists)
	}

	err := dr.persistence.writeJSON(path, definition)
	if err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, definition.Version, err)
	}

	return nil
}

func (dr *DefinitionRepository) DefinitionByVersion(_ context.Context, id string, version int) (*models.ProcessDefinition, error) {
	dr.persistence.mu.RLock()
	defer dr.persistence.mu.RUnlock()

	definition := &models.ProcessDefinition{}

	err := dr.persistence.readJSON(dr.path(id, version), definition)
	if errors.Is(err, os.ErrNotExist) {
		return nil, persistence.NewDefinitionError("ByVersion", id, version, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return nil, persistence.NewDefinitionError("ByVersion", id, version, err)
	}

	return definition, nil
}

func (dr *DefinitionRepository) LatestDefinition(ctx context.Context, id string) (*models.ProcessDefinition, error) {
	version, err := dr.LatestVersion(ctx, id)
	if err != nil {
		return nil, err
	}

	return dr.DefinitionByVersion(ctx, id, version)
}

func (dr *DefinitionRepository) LatestVersion(_ context.Context, id string) (int, error) {
	dr.persistence.mu.RLock()
	defer dr.persistence.mu.RUnlock()

	root := os.DirFS(filepath.Join(dr.persistence.root, "definitions", id))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil || len(jsonFiles) == 0 {
		return 0, persistence.NewDefinitionError("LatestVersion", id, 0, persistence.ErrDefinitionNotFound)
	}

	latest := 0

	for _, file := range jsonFiles {
		version, err := strconv.Atoi(file[:len(file)-5])
		if err != nil {
			continue
		}

		if version > latest {
			latest = version
		}
	}

	if latest == 0 {
		return 0, persistence.NewDefinitionError("LatestVersion", id, 0, persistence.ErrDefinitionNotFound)
	}

	return latest, nil
}
