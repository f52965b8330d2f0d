package port

// FileInfo is a document found by the walker.
type FileInfo struct {
	Path    string // absolute
	RelPath string // slash separated, relative to the walked root
	ModTime int64
	Size    int64
}
