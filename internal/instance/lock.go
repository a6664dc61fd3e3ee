// pattern: Imperative Shell

// Package instance enforces a single running broker per data directory
// and records its listen address for tooling.
package instance

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const (
	lockFileName = "coderoom.lock"
	addrFileName = "coderoom.addr"
)

// Lock acquires an exclusive file lock for single-instance enforcement.
// Returns the flock handle (caller must defer Cleanup) or an error if
// another broker already holds the lock.
func Lock(dataDir string) (*flock.Flock, error) {
	lockPath := filepath.Join(dataDir, lockFileName)
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another coderoom instance is already running")
	}
	return fl, nil
}

// WriteAddr writes the web server's listener address to the addr file.
func WriteAddr(dataDir, addr string) error {
	addrPath := filepath.Join(dataDir, addrFileName)
	return os.WriteFile(addrPath, []byte(addr), 0600)
}

// Cleanup removes the addr file and releases the file lock.
func Cleanup(dataDir string, fl *flock.Flock) {
	addrPath := filepath.Join(dataDir, addrFileName)
	_ = os.Remove(addrPath)
	if fl != nil {
		_ = fl.Unlock()
	}
}
