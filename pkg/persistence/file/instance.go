package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/conveyr/conveyr/pkg/models"
	"github.com/conveyr/conveyr/pkg/persistence"
)

// InstanceRepository handles instance-related file operations.
type InstanceRepository struct {
	persistence *Persistence
}

func (ir *InstanceRepository) path(key string) string {
	return filepath.Join(ir.persistence.root, "instances", key+".json")
}

func (ir *InstanceRepository) SaveInstance(_ context.Context, instance *models.ProcessInstance) error {
	ir.persistence.mu.Lock()
	defer ir.persistence.mu.Unlock()

	err := ir.persistence.writeJSON(ir.path(instance.Key), instance)
	if err != nil {
		return &persistence.InstanceError{Op: "Save", Key: instance.Key, Err: err}
	}

	return nil
}

func (ir *InstanceRepository) InstanceByKey(_ context.Context, key string) (*models.ProcessInstance, error) {
	ir.persistence.mu.RLock()
	defer ir.persistence.mu.RUnlock()

	instance := &models.ProcessInstance{}

	err := ir.persistence.readJSON(ir.path(key), instance)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &persistence.InstanceError{Op: "ByKey", Key: key, Err: persistence.ErrInstanceNotFound}
	}

	if err != nil {
		return nil, &persistence.InstanceError{Op: "ByKey", Key: key, Err: err}
	}

	return instance, nil
}
