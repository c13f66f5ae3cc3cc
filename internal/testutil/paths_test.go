package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFindProjectRoot(t *testing.T) {
	root, err := FindProjectRoot()
	if err != nil {
		t.Fatalf("FindProjectRoot returned error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "go.mod")); err != nil {
		t.Fatalf("go.mod not found at %s: %v", root, err)
	}
}

func TestProjectFile(t *testing.T) {
	path, err := ProjectFile("datapages.example.yaml")
	if err != nil {
		t.Fatalf("ProjectFile returned error: %v", err)
	}
	if filepath.Base(path) != "datapages.example.yaml" {
		t.Errorf("unexpected path %s", path)
	}

	if _, err := ProjectFile("does-not-exist.yaml"); err == nil {
		t.Error("expected error for missing project file")
	}
}

func TestRootFrom_NoModule(t *testing.T) {
	if _, err := rootFrom(t.TempDir()); err == nil {
		t.Error("expected error outside any module")
	}
}
