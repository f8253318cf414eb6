//go:build !linux

package storage

// Detection is linux-only; elsewhere every path is accepted.
func detectFilesystemType(string) (string, error) {
	return "", nil
}
