//go:build linux

package orbital

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// publish renames staging to dst without replacing an existing dst.
func publish(staging, dst string) error {
	err := unix.Renameat2(unix.AT_FDCWD, staging, unix.AT_FDCWD, dst, unix.RENAME_NOREPLACE)
	if errors.Is(err, unix.EINVAL) || errors.Is(err, unix.ENOSYS) {
		// Filesystem without RENAME_NOREPLACE. Renaming a directory over a
		// non-empty one still fails with ENOTEMPTY or EEXIST.
		return os.Rename(staging, dst)
	}
	if err != nil {
		return &os.LinkError{Op: "renameat2", Old: staging, New: dst, Err: err}
	}
	return nil
}
