// Package core is the client side of slashbin: it turns command-line paths
// into upload parts and talks to the HTTP and paste endpoints.
package core

import (
	"fmt"
	"os"
	"path/filepath"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

type PathKind int

const (
	PathFile PathKind = iota
	PathDir
)

func (k PathKind) String() string {
	if k == PathDir {
		return "dir"
	}
	return "file"
}

type ParsedPath struct {
	FullPath string
	Kind     PathKind
	Size     int64 // zero for directories
}

// ParseArgs validates upload arguments. Every path must exist and be a
// regular file or directory; a path given twice is an error.
func ParseArgs(args []string) ([]ParsedPath, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<files>", Cause: "no files provided"}
	}

	seen := make(map[string]bool, len(args))
	var out []ParsedPath

	for _, raw := range args {
		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
		}
		if seen[p] {
			return nil, &ValidationError{Arg: raw, Cause: "given more than once"}
		}
		seen[p] = true

		switch {
		case info.IsDir():
			out = append(out, ParsedPath{FullPath: p, Kind: PathDir})
		case info.Mode().IsRegular():
			out = append(out, ParsedPath{FullPath: p, Kind: PathFile, Size: info.Size()})
		default:
			return nil, &ValidationError{Arg: raw, Cause: "not a regular file or directory"}
		}
	}

	return out, nil
}

// HasDir reports whether any parsed path is a directory.
func HasDir(paths []ParsedPath) bool {
	for _, p := range paths {
		if p.Kind == PathDir {
			return true
		}
	}
	return false
}
