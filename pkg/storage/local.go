package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ethpandaops/flowwatch/pkg/config"
)

// Compile-time interface check.
var _ Reader = (*localReader)(nil)

type localReader struct {
	dir string
}

// NewLocalReader creates a Reader backed by a local export directory.
func NewLocalReader(cfg *config.LocalStorageConfig) Reader {
	return &localReader{dir: cfg.Dir}
}

func (r *localReader) Describe() string {
	return "local:" + r.dir
}

// GetObject reads {dir}/{name}.
func (r *localReader) GetObject(_ context.Context, name string) ([]byte, error) {
	if !isAllowedName(name) {
		return nil, fmt.Errorf("object name %q not allowed", name)
	}

	p := filepath.Join(r.dir, filepath.FromSlash(name))

	data, err := os.ReadFile(p) //nolint:gosec // name is validated above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", p, ErrNotFound)
		}

		return nil, fmt.Errorf("reading file %s: %w", p, err)
	}

	return data, nil
}

// isAllowedName rejects empty, absolute and non-canonical names so a
// name can never escape the export directory.
func isAllowedName(name string) bool {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return false
	}

	if path.Clean(name) != name {
		return false
	}

	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return false
		}
	}

	return true
}
