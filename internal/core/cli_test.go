package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to create test file %s: %v", name, err)
		}
	}
}

func assertValidationError(t *testing.T, err error, wantArg, wantCause string) {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T (%v)", err, err)
	}
	if wantArg != "" && verr.Arg != wantArg {
		t.Errorf("expected Arg %q, got %q", wantArg, verr.Arg)
	}
	if wantCause != "" && verr.Cause != wantCause {
		t.Errorf("expected Cause %q, got %q", wantCause, verr.Cause)
	}
}

func TestParseArgs(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"notes.txt":     "hello",
		"src/main.go":   "package main",
		"src/README.md": "# readme",
	})
	notes := filepath.Join(dir, "notes.txt")
	src := filepath.Join(dir, "src")

	t.Run("no arguments", func(t *testing.T) {
		result, err := ParseArgs(nil)
		if result != nil {
			t.Error("expected nil result")
		}
		assertValidationError(t, err, "<files>", "no files provided")
	})

	t.Run("files and directories", func(t *testing.T) {
		result, err := ParseArgs([]string{notes, src})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(result) != 2 {
			t.Fatalf("expected 2 results, got %d", len(result))
		}
		if result[0].Kind != PathFile || result[0].Size != 5 {
			t.Errorf("unexpected file result %+v", result[0])
		}
		if result[1].Kind != PathDir || result[1].FullPath != src {
			t.Errorf("unexpected dir result %+v", result[1])
		}
	})

	t.Run("paths are cleaned", func(t *testing.T) {
		result, err := ParseArgs([]string{filepath.Join(dir, ".", "src", "..", "notes.txt")})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result[0].FullPath != notes {
			t.Errorf("expected %s, got %s", notes, result[0].FullPath)
		}
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := ParseArgs([]string{notes, filepath.Join(dir, "missing.txt")})
		assertValidationError(t, err, filepath.Join(dir, "missing.txt"), "not found or not accessible")
	})

	t.Run("duplicate path", func(t *testing.T) {
		_, err := ParseArgs([]string{notes, dir + "/./notes.txt"})
		assertValidationError(t, err, "", "given more than once")
	})
}

func TestHasDir(t *testing.T) {
	if HasDir([]ParsedPath{{Kind: PathFile}, {Kind: PathFile}}) {
		t.Error("expected no directory")
	}
	if !HasDir([]ParsedPath{{Kind: PathFile}, {Kind: PathDir}}) {
		t.Error("expected a directory")
	}
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Arg: "test.txt", Cause: "file not found"}
	want := `invalid argument "test.txt": file not found`
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}
