package keyvalue

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendBbolt   = "bbolt"
	BackendPebble  = "pebble"
	BackendLevelDB = "leveldb"
)

// Backends lists every supported backend.
func Backends() []string {
	return []string{BackendBbolt, BackendPebble, BackendLevelDB}
}

// Open opens the named backend rooted at path. bbolt keeps a single file
// inside path; pebble and goleveldb own the directory.
func Open(backend, path string) (DB, error) {
	if path == "" {
		return nil, fmt.Errorf("keyvalue: empty path for backend %q", backend)
	}
	switch backend {
	case BackendBbolt:
		return OpenBBolt(path, "history")
	case BackendPebble:
		return OpenPebble(filepath.Join(path, "pebble"))
	case BackendLevelDB:
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("create leveldb dir: %w", err)
		}
		return OpenLevelDB(filepath.Join(path, "leveldb"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
