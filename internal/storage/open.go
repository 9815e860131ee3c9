package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/HerbHall/pilethost/pkg/pilet"
)

// Drivers accepted by Open.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Backend is a pilet.Storage that holds resources.
type Backend interface {
	pilet.Storage
	io.Closer
}

type memoryBackend struct{ *Memory }

func (memoryBackend) Close() error { return nil }

// Open returns the storage backend named by driver. path is only used by
// the sqlite driver; its parent directory is created if missing.
func Open(driver, path string) (Backend, error) {
	switch driver {
	case DriverMemory, "":
		return memoryBackend{NewMemory()}, nil
	case DriverSQLite:
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		return NewSQLite(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
