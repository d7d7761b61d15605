package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const snapshotFile = "discovery.json"

// snapshotStore persists the last successful discovery result as one
// JSON file, written atomically via temp file + rename.
type snapshotStore struct {
	path   string
	logger zerolog.Logger
}

// newSnapshotStore picks the snapshot location. If the preferred
// directory is not writable it falls back to a subdirectory of the
// process temp dir; writability is probed by creating and deleting a
// marker file.
func newSnapshotStore(preferredDir string, logger zerolog.Logger) *snapshotStore {
	dir := preferredDir
	if !writable(dir) {
		dir = filepath.Join(os.TempDir(), "docpipe")
		if !writable(dir) {
			logger.Warn().Str("dir", dir).Msg("no writable snapshot directory, discovery caching disabled")
			return &snapshotStore{logger: logger}
		}
		logger.Info().Str("dir", dir).Msg("discovery snapshot falling back to temp directory")
	}
	return &snapshotStore{path: filepath.Join(dir, snapshotFile), logger: logger}
}

func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false
	}
	marker := filepath.Join(dir, ".probe-"+uuid.NewString())
	if err := os.WriteFile(marker, nil, 0o600); err != nil {
		return false
	}
	return os.Remove(marker) == nil
}

// load returns the persisted result if it is readable. A malformed file
// is deleted and ignored (read repair). Expiry is the caller's concern.
func (st *snapshotStore) load() (Result, bool) {
	if st.path == "" {
		return Result{}, false
	}
	data, err := os.ReadFile(st.path)
	if err != nil {
		return Result{}, false
	}
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		st.logger.Warn().Str("path", st.path).Err(err).Msg("removing malformed discovery snapshot")
		_ = os.Remove(st.path)
		return Result{}, false
	}
	return r, true
}

// save persists a result. Write to a temporary file first, then rename
// (atomic operation).
func (st *snapshotStore) save(r Result) error {
	if st.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	tmp := st.path + ".tmp." + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, st.path)
}
