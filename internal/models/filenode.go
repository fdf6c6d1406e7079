// Package models holds the wire types shared by the server and its clients.
package models

// FileNode is one entry in the file tree returned by the listing endpoint.
// Directories carry Children; files carry Size, Modified and Extension.
type FileNode struct {
	Name      string      `json:"name"`
	Type      string      `json:"type"` // "directory" or "file"
	Path      string      `json:"path"` // slash-separated, relative to the root
	Children  []*FileNode `json:"children,omitempty"`
	Size      int64       `json:"size,omitempty"`
	Modified  string      `json:"modified,omitempty"`
	Extension string      `json:"extension,omitempty"`
}

// IsDir reports whether the node is a directory.
func (n *FileNode) IsDir() bool {
	return n.Type == "directory"
}

// Count returns the number of nodes in the subtree, including n itself.
func (n *FileNode) Count() int {
	if n == nil {
		return 0
	}
	count := 1
	for _, c := range n.Children {
		count += c.Count()
	}
	return count
}

// Flatten returns the relative paths of every file in the subtree.
func (n *FileNode) Flatten() []string {
	var paths []string
	n.walk(&paths)
	return paths
}

func (n *FileNode) walk(paths *[]string) {
	if n == nil {
		return
	}
	if !n.IsDir() {
		*paths = append(*paths, n.Path)
		return
	}
	for _, c := range n.Children {
		c.walk(paths)
	}
}
