package diag

import (
	"os"
	"strconv"
)

// WritePid writes the current process's decimal PID to path. A no-op
// if path is empty.
func WritePid(path string) error {
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// RemovePid removes the PID file at path, swallowing a not-exist error.
func RemovePid(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
