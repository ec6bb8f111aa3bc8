package core

type Node interface {
	Path() string
	Name() string
}

type File struct {
	path string
	name string
	size int64
	dir  *Dir
}

type Dir struct {
	path     string
	name     string
	children []Node
	parent   *Dir
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Name() string {
	return f.name
}

func (f *File) Size() int64 {
	return f.size
}

// Rel is the file's path inside the tree, slash-separated, starting at the
// outermost directory that contains it.
func (f *File) Rel() string {
	rel := f.name
	for d := f.dir; d != nil && !d.virtual(); d = d.parent {
		rel = d.name + "/" + rel
	}
	return rel
}

func (d *Dir) Path() string {
	return d.path
}

func (d *Dir) Name() string {
	return d.name
}

func (d *Dir) Children() []Node {
	return d.children
}

// virtual reports whether d was synthesised to hold several arguments.
func (d *Dir) virtual() bool {
	return d.path == ""
}
