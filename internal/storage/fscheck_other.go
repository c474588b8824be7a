//go:build !darwin && !linux

package storage

// detectFilesystemType reports an empty type where detection is unsupported,
// which skips the check.
func detectFilesystemType(string) (string, error) {
	return "", nil
}
