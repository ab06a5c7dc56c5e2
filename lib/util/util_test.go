package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestUserHomeReturnsValidPath(t *testing.T) {
	home := UserHome()
	if home == "" {
		t.Fatal("UserHome returned empty string")
	}

	info, err := os.Stat(home)
	if err != nil {
		t.Fatalf("UserHome returned non-existent path: %s, error: %v", home, err)
	}
	if !info.IsDir() {
		t.Fatalf("UserHome returned non-directory: %s", home)
	}
}

func TestCheckFileExists(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "present")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	if !CheckFileExists(path) {
		t.Error("expected true for existing file")
	}
	if CheckFileExists(filepath.Join(dir, "absent")) {
		t.Error("expected false for missing file")
	}
	// directories count as existing
	if !CheckFileExists(dir) {
		t.Error("expected true for directory")
	}
}
