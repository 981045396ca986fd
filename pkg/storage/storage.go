package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/flowwatch/pkg/config"
)

// ErrNotFound is returned when the requested export object does not exist.
var ErrNotFound = errors.New("object not found")

// Reader provides read access to table exports stored in a backend
// (local filesystem or S3). The export loader uses it to fetch CSV files
// without knowing the underlying storage details.
type Reader interface {
	// GetObject reads the named export object. Returns an error wrapping
	// ErrNotFound when the object does not exist.
	GetObject(ctx context.Context, name string) ([]byte, error)

	// Describe returns a short human readable description of the backend.
	Describe() string
}

// NewReader creates the Reader for whichever backend is enabled in cfg.
func NewReader(cfg *config.StorageConfig) (Reader, error) {
	switch {
	case cfg.S3 != nil && cfg.S3.Enabled:
		return NewS3Reader(cfg.S3), nil
	case cfg.Local != nil && cfg.Local.Enabled:
		return NewLocalReader(cfg.Local), nil
	default:
		return nil, fmt.Errorf("no storage backend configured")
	}
}
