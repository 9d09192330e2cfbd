package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates root/rel with size bytes of deterministic content and
// returns its path.
func WriteFile(t testing.TB, root, rel string, size int) string {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create parent directory for %s: %v", rel, err)
	}

	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to create file %s: %v", path, err)
	}
	return path
}
