package storage

import (
	"fmt"

	"github.com/gofrs/flock"

	"github.com/bdougie/vidclassify/internal/config"
)

// lockCheckpoint takes an exclusive advisory lock next to path so two runs
// cannot write the same checkpoint.
func lockCheckpoint(path string) (*flock.Flock, error) {
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock checkpoint %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: checkpoint %s is in use by another run", config.ErrConfiguration, path)
	}
	return lock, nil
}
