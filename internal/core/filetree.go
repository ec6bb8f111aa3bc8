package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

type Filetree struct {
	Root Node
}

// BuildFiletree walks every parsed path. Several arguments are gathered
// under a virtual root named after the upload time.
func BuildFiletree(paths []ParsedPath, now time.Time) (*Filetree, error) {
	var rootNodes []Node

	for _, parsedPath := range paths {
		if parsedPath.Kind == PathDir {
			dirNode, err := buildDirTree(parsedPath.FullPath)
			if err != nil {
				return nil, err
			}
			rootNodes = append(rootNodes, dirNode)
		} else {
			rootNodes = append(rootNodes, &File{
				path: parsedPath.FullPath,
				name: filepath.Base(parsedPath.FullPath),
				size: parsedPath.Size,
			})
		}
	}

	if len(rootNodes) == 0 {
		return nil, fmt.Errorf("no valid paths provided")
	}

	if len(rootNodes) == 1 {
		return &Filetree{Root: rootNodes[0]}, nil
	}
	return &Filetree{Root: createVirtualRoot(rootNodes, now)}, nil
}

func buildDirTree(dirPath string) (*Dir, error) {
	dir := &Dir{
		path:     dirPath,
		name:     filepath.Base(dirPath),
		children: []Node{},
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dirPath, err)
	}

	for _, entry := range entries {
		childPath := filepath.Join(dirPath, entry.Name())

		switch {
		case entry.IsDir():
			childDir, err := buildDirTree(childPath)
			if err != nil {
				return nil, err
			}
			childDir.parent = dir
			dir.children = append(dir.children, childDir)
		case entry.Type().IsRegular():
			info, err := entry.Info()
			if err != nil {
				return nil, fmt.Errorf("failed to stat %s: %w", childPath, err)
			}
			dir.children = append(dir.children, &File{
				path: childPath,
				name: entry.Name(),
				size: info.Size(),
				dir:  dir,
			})
		}
		// Symlinks, sockets and devices are skipped.
	}

	return dir, nil
}

func createVirtualRoot(children []Node, now time.Time) *Dir {
	virtualRoot := &Dir{
		name:     fmt.Sprintf("upload_%s", now.Format("2006_01_02_150405")),
		children: children,
	}

	for _, child := range children {
		switch n := child.(type) {
		case *Dir:
			n.parent = virtualRoot
		case *File:
			n.dir = virtualRoot
		}
	}

	return virtualRoot
}

// FlattenTree returns every file in the tree in a stable, depth-first order.
func (ft *Filetree) FlattenTree() []*File {
	var out []*File
	var walk func(Node)
	walk = func(n Node) {
		switch n := n.(type) {
		case *File:
			out = append(out, n)
		case *Dir:
			children := append([]Node(nil), n.children...)
			sort.SliceStable(children, func(i, j int) bool {
				return children[i].Name() < children[j].Name()
			})
			for _, c := range children {
				walk(c)
			}
		}
	}
	walk(ft.Root)
	return out
}

// TotalSize is the combined size of every file in the tree.
func (ft *Filetree) TotalSize() int64 {
	var total int64
	for _, f := range ft.FlattenTree() {
		total += f.size
	}
	return total
}

// ArchiveName is the file name used when the tree is uploaded as one zip.
func (ft *Filetree) ArchiveName() string {
	return ft.Root.Name() + ".zip"
}
