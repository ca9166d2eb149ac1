package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteStorageItem creates an item file (and its metadata sidecar) inside a
// download's storage directory, mimicking the fetch tool's on-disk layout.
func WriteStorageItem(dir, name string) string {
	path := filepath.Join(dir, name)
	os.MkdirAll(filepath.Dir(path), 0755)
	os.WriteFile(path, []byte("data"), 0644)
	os.WriteFile(path+".json", []byte(`{"category":"test"}`), 0644)
	return path
}

// MustWriteStorageItem is WriteStorageItem with test failure on error.
func MustWriteStorageItem(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create storage dir: %v", err)
	}
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatalf("Failed to write storage item: %v", err)
	}
	return path
}

// WriteTrustList writes a trust list YAML file naming the given user ids.
func WriteTrustList(t *testing.T, path string, userIDs ...int64) {
	t.Helper()
	content := "trusted_users:\n"
	for _, id := range userIDs {
		content += fmt.Sprintf("  - %d\n", id)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write trust list: %v", err)
	}
}
