// Package storage mirrors uploaded files under a single root directory.
package storage

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/juand-r/ius-dashboard/internal/models"
	"github.com/juand-r/ius-dashboard/internal/pathutil"
)

// Store is a directory-backed file store with atomic writes.
type Store struct {
	root string
}

// New creates a store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute storage root.
func (s *Store) Root() string {
	return s.root
}

// Put writes content to rel atomically: the bytes land in a temp file in the
// destination directory and are renamed into place, so readers never observe
// a partial file. Returns the number of bytes written.
func (s *Store) Put(rel string, r io.Reader) (int64, error) {
	abs, err := pathutil.JoinWithinRoot(s.root, rel)
	if err != nil {
		return 0, err
	}
	if abs == s.root {
		return 0, fmt.Errorf("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return 0, fmt.Errorf("create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("write content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		os.Remove(tmp.Name())
		return 0, fmt.Errorf("rename into place: %w", err)
	}
	return n, nil
}

// Open opens the file at rel for reading.
func (s *Store) Open(rel string) (*os.File, os.FileInfo, error) {
	abs, err := pathutil.JoinWithinRoot(s.root, rel)
	if err != nil {
		return nil, nil, os.ErrNotExist
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, os.ErrNotExist
	}
	return f, info, nil
}

// Delete removes the file at rel and prunes parent directories left empty,
// stopping at the storage root. Directories themselves are never deleted
// directly.
func (s *Store) Delete(rel string) error {
	abs, err := pathutil.JoinWithinRoot(s.root, rel)
	if err != nil || abs == s.root {
		return os.ErrNotExist
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("not a file: %s", rel)
	}
	if err := os.Remove(abs); err != nil {
		return err
	}
	s.pruneEmptyDirs(filepath.Dir(abs))
	return nil
}

func (s *Store) pruneEmptyDirs(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root+string(filepath.Separator)) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// BuildTree walks the storage root and returns the current file tree. Entries
// that disappear mid-walk are skipped rather than failing the listing. Temp
// files from in-flight writes are excluded.
func (s *Store) BuildTree() (*models.FileNode, error) {
	root := &models.FileNode{Name: "data", Type: "directory", Path: ""}
	if err := s.fillDir(root, s.root); err != nil {
		return nil, err
	}
	return root, nil
}

func (s *Store) fillDir(node *models.FileNode, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".upload-") {
			continue
		}
		childPath := name
		if node.Path != "" {
			childPath = node.Path + "/" + name
		}
		if entry.IsDir() {
			child := &models.FileNode{Name: name, Type: "directory", Path: childPath}
			if err := s.fillDir(child, filepath.Join(dir, name)); err != nil {
				return err
			}
			node.Children = append(node.Children, child)
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // deleted between ReadDir and Info
		}
		node.Children = append(node.Children, &models.FileNode{
			Name:      name,
			Type:      "file",
			Path:      childPath,
			Size:      info.Size(),
			Modified:  info.ModTime().Format(time.RFC3339),
			Extension: path.Ext(name),
		})
	}

	sort.Slice(node.Children, func(i, j int) bool {
		a, b := node.Children[i], node.Children[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		return strings.ToLower(a.Name) < strings.ToLower(b.Name)
	})
	return nil
}
