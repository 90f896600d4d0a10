//go:build !windows

package fileutil

import "os"

// restrict narrows access to path for owner-only modes. Unix permission
// bits already do this, so only the mode is reapplied to undo umask drift.
func restrict(path string, perm os.FileMode) error {
	if !isOwnerOnly(perm) {
		return nil
	}
	return os.Chmod(path, perm)
}
