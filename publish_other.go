//go:build unix && !linux

package orbital

import "os"

// publish renames staging to dst. Renaming a directory over a non-empty one
// fails, which is how a lost race shows up.
func publish(staging, dst string) error {
	return os.Rename(staging, dst)
}
