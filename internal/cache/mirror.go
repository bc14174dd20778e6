package cache

import (
	"context"
	"fmt"

	"github.com/sebastianknopf/gtfs-incident-alerts/internal/lib/publish"
)

// Mirror drivers
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// MirrorStore is a publish.MirrorStore that holds resources
type MirrorStore interface {
	publish.MirrorStore
	Close() error
}

// OpenMirror opens the mirror store for driver. An empty path selects the default file location;
// the sqlite driver requires a path.
func OpenMirror(ctx context.Context, driver, path string) (MirrorStore, error) {
	switch driver {
	case "", DriverFile:
		return NewFileMirror(path)
	case DriverSQLite:
		if path == "" {
			return nil, fmt.Errorf("sqlite mirror requires a path")
		}
		return OpenSQLiteMirror(ctx, path)
	default:
		return nil, fmt.Errorf("unknown mirror driver %q", driver)
	}
}

// Close is a no-op for file mirrors
func (m *FileMirror) Close() error {
	return nil
}
