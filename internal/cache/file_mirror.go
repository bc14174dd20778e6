package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dpup/prefab/logging"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/feed"
	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/publish"
)

// DefaultMirrorPath returns <user cache dir>/gtfs-incident-alerts/mqtt.mirror
func DefaultMirrorPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user cache directory: %w", err)
	}
	return filepath.Join(dir, "gtfs-incident-alerts", "mqtt.mirror"), nil
}

// FileMirror stores the publish mirror as one JSON object mapping alert id to alert
type FileMirror struct {
	path  string
	mutex sync.Mutex
}

// NewFileMirror creates a mirror store at path, or at DefaultMirrorPath when path is empty
func NewFileMirror(path string) (*FileMirror, error) {
	if path == "" {
		var err error
		if path, err = DefaultMirrorPath(); err != nil {
			return nil, err
		}
	}
	return &FileMirror{path: path}, nil
}

// Path returns the mirror file location
func (m *FileMirror) Path() string {
	return m.path
}

// Load reads the mirror. A missing, empty or unreadable file is an empty mirror.
func (m *FileMirror) Load(ctx context.Context) (publish.Mirror, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return publish.Mirror{}, nil
	}
	if err != nil {
		logging.Warnw(ctx, "Mirror: failed to read file, starting empty", "path", m.path, "error", err)
		return publish.Mirror{}, nil
	}
	if len(data) == 0 {
		return publish.Mirror{}, nil
	}

	mirror := publish.Mirror{}
	if err := json.Unmarshal(data, &mirror); err != nil {
		logging.Warnw(ctx, "Mirror: corrupt file, starting empty", "path", m.path, "error", err)
		return publish.Mirror{}, nil
	}

	return mirror, nil
}

// Save replaces the mirror file atomically
func (m *FileMirror) Save(ctx context.Context, mirror publish.Mirror) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if mirror == nil {
		mirror = publish.Mirror{}
	}

	data, err := json.Marshal(mirror)
	if err != nil {
		return fmt.Errorf("failed to marshal mirror: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("failed to create mirror directory: %w", err)
	}

	if err := feed.WriteFileAtomic(m.path, data); err != nil {
		return fmt.Errorf("failed to write mirror: %w", err)
	}

	logging.Debugw(ctx, "Mirror: saved", "path", m.path, "alerts", len(mirror))
	return nil
}
