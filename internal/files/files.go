// Package files implements small file utilities shared by the loaders and the hub.
package files

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// Exists returns true if the path exists (file or directory).
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ReadFile returns the contents of the file at path, read through the same x/exp/mmap reader the GGUF loader
// uses. The returned slice is a copy: it stays valid after the mapping is closed.
func ReadFile(path string) ([]byte, error) {
	reader, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = reader.Close() }()

	content := make([]byte, reader.Len())
	if len(content) == 0 {
		return content, nil
	}
	if _, err := reader.ReadAt(content, 0); err != nil {
		return nil, errors.Wrapf(err, "failed to read %q", path)
	}
	return content, nil
}
