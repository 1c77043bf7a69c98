package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
)

// socketName is the fixed socket filename inside the per-run temp directory.
const socketName = "backend.sock"

// AllocateSocketPath returns a unix socket path that is unique to this run
// and does not yet exist. Uniqueness comes from the freshly created temp
// directory; the socket file itself is never pre-created, so the backend
// can bind it directly. The caller owns the directory and must remove it
// (and the socket) on shutdown.
func AllocateSocketPath() (path, dir string, err error) {
	dir, err = os.MkdirTemp("", "fcgi-shim-*")
	if err != nil {
		return "", "", fmt.Errorf("allocate socket directory: %w", err)
	}
	return filepath.Join(dir, socketName), dir, nil
}
