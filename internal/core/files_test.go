package core

import "testing"

func TestFile_Rel(t *testing.T) {
	virtual := &Dir{name: "upload_x"}
	top := &Dir{path: "/tmp/top", name: "top", parent: virtual}
	sub := &Dir{path: "/tmp/top/sub", name: "sub", parent: top}

	tests := []struct {
		name string
		file *File
		want string
	}{
		{"standalone", &File{path: "/tmp/a.txt", name: "a.txt"}, "a.txt"},
		{"under virtual root", &File{path: "/tmp/a.txt", name: "a.txt", dir: virtual}, "a.txt"},
		{"nested", &File{path: "/tmp/top/sub/b.txt", name: "b.txt", dir: sub}, "top/sub/b.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.file.Rel(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNode(t *testing.T) {
	var nodes []Node = []Node{
		&File{path: "/file.txt", name: "file.txt"},
		&Dir{path: "/dir", name: "dir"},
	}
	for _, n := range nodes {
		if n.Path() == "" || n.Name() == "" {
			t.Errorf("node %T has empty path or name", n)
		}
	}
}
