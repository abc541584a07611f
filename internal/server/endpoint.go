package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PrepareEndpoint makes an endpoint bindable before Listen. For ipc://
// endpoints that means removing a socket file left behind by an earlier
// run; tcp and inproc endpoints need no preparation.
func PrepareEndpoint(ep string) error {
	path, ok := strings.CutPrefix(ep, "ipc://")
	if !ok {
		return nil
	}
	if path == "" {
		return fmt.Errorf("ipc endpoint %q has no path", ep)
	}

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return fmt.Errorf("ipc endpoint directory: %w", err)
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ipc endpoint: %w", err)
	}
	if info.Mode()&os.ModeSocket == 0 {
		// Refuse to clobber something that was never ours
		return fmt.Errorf("ipc endpoint %s exists and is not a socket", path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale ipc socket: %w", err)
	}
	return nil
}
