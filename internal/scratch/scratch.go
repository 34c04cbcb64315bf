// Package scratch tracks the temporary files a single job creates and
// guarantees their removal.
//
// A Registry is owned by exactly one invocation; paths it hands out embed a
// random UUID so concurrent jobs sharing a scratch directory never collide.
package scratch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/embano1/transcribe-worker/internal/logging"
)

// Registry records scratch paths for later deletion.
type Registry struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	paths []string
}

// New creates a registry rooted at dir (os.TempDir when empty).
func New(dir string, logger *slog.Logger) *Registry {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Registry{dir: dir, logger: logger}
}

// Dir returns the directory scratch paths are created in.
func (r *Registry) Dir() string {
	return r.dir
}

// Path returns a fresh, unique path for name. It does not create or track it.
func (r *Registry) Path(name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "scratch"
	}
	return filepath.Join(r.dir, fmt.Sprintf("%s_%s", uuid.NewString(), base))
}

// Track registers path for deletion by Cleanup.
func (r *Registry) Track(path string) {
	if path == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.paths {
		if p == path {
			return
		}
	}
	r.paths = append(r.paths, path)
}

// Tracked returns a copy of the registered paths.
func (r *Registry) Tracked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.paths))
	copy(out, r.paths)
	return out
}

// Remove deletes path now and stops tracking it. A path that is already gone
// is not an error. On failure the path stays tracked so Cleanup retries it.
func (r *Registry) Remove(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.paths {
		if p == path {
			r.paths = append(r.paths[:i], r.paths[i+1:]...)
			break
		}
	}
	r.logger.Debug("scratch removed", logging.String("path", path))
	return nil
}

// Cleanup deletes every tracked path that still exists. Failures are logged
// and returned joined; they never stop the remaining deletions.
func (r *Registry) Cleanup() error {
	r.mu.Lock()
	paths := r.paths
	r.paths = nil
	r.mu.Unlock()

	var errs []error
	for _, path := range paths {
		if _, err := os.Lstat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			r.logger.Warn("failed to delete scratch file",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "scratch_cleanup_failed"),
			)
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		r.logger.Info("deleted scratch file", logging.String("path", path))
	}
	return errors.Join(errs...)
}
