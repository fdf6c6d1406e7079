// Package synctool computes which server-side files no longer exist locally.
package synctool

import (
	"os"
	"path/filepath"
	"sort"
)

// LocalFiles walks the given directories under projectRoot and returns the
// slash-separated relative paths of files matching any of the patterns.
// Patterns apply to base names; an empty pattern list matches everything.
func LocalFiles(projectRoot string, dirs, patterns []string) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	for _, dir := range dirs {
		abs := filepath.Join(projectRoot, filepath.FromSlash(dir))
		err := filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() || !matchAny(d.Name(), patterns) {
				return nil
			}
			rel, err := filepath.Rel(projectRoot, path)
			if err != nil {
				return err
			}
			set[filepath.ToSlash(rel)] = struct{}{}
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return set, nil
}

// Orphans returns the remote paths with no local counterpart, sorted. Only
// remote paths matching the patterns are considered; the server may hold
// files outside the synced set (uploads from other sources) and those are
// left alone.
func Orphans(remote, local map[string]struct{}, patterns []string) []string {
	var orphans []string
	for p := range remote {
		if !matchAny(filepath.Base(p), patterns) {
			continue
		}
		if _, ok := local[p]; !ok {
			orphans = append(orphans, p)
		}
	}
	sort.Strings(orphans)
	return orphans
}

func matchAny(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}
