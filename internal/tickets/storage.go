package tickets

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ArtifactStorage persists a rendered ticket and returns the URL the buyer
// downloads it from.
type ArtifactStorage interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// LocalStorage writes artifacts below Dir. The HTTP server exposes Dir under
// BaseURL.
type LocalStorage struct {
	Dir     string
	BaseURL string
}

func NewLocalStorage(dir, baseURL string) *LocalStorage {
	return &LocalStorage{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}
}

func (s *LocalStorage) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	clean := path.Clean("/" + name)[1:]
	if clean == "" {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}

	full := filepath.Join(s.Dir, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", clean, err)
	}
	return s.BaseURL + "/" + clean, nil
}
