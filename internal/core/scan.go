package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SourceEntry is one file or directory discovered by the scanner. Entries
// are ephemeral: they feed the differencer and node builder and are never
// persisted. RelPath always uses forward slashes, suitable for use as a tar
// member name. Directories have Size 0 and Mtime 0.
type SourceEntry struct {
	AbsPath string
	RelPath string
	IsDir   bool
	Size    int64
	Mtime   float64 // Unix seconds with fractional part
	Mode    fs.FileMode
}

// scanPaths recursively walks all root paths and returns a flat entry list
// in traversal order: each directory precedes its (name-sorted) children. A
// permission error skips the affected subtree with a warning but still
// records the inaccessible directory entry itself.
func (s *Service) scanPaths(paths []string) ([]SourceEntry, error) {
	var entries []SourceEntry

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving path %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", p, err)
		}
		entries = s.walk(entries, abs, filepath.Base(abs), info)
	}

	return entries, nil
}

func (s *Service) walk(entries []SourceEntry, absPath, relPath string, info fs.FileInfo) []SourceEntry {
	entry := SourceEntry{
		AbsPath: absPath,
		RelPath: relPath,
		IsDir:   info.IsDir(),
		Mode:    info.Mode().Perm(),
	}
	if !info.IsDir() {
		entry.Size = info.Size()
		entry.Mtime = float64(info.ModTime().UnixNano()) / 1e9
	}
	entries = append(entries, entry)

	if !info.IsDir() {
		return entries
	}

	children, err := os.ReadDir(absPath)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			s.logger.Warn("permission denied, skipping subtree", "path", absPath)
			return entries
		}
		s.logger.Warn("cannot read directory, skipping subtree", "path", absPath, "error", err)
		return entries
	}

	// ReadDir sorts by name, which keeps traversal deterministic.
	for _, child := range children {
		childInfo, err := child.Info()
		if err != nil {
			s.logger.Warn("cannot stat entry, skipping", "path", filepath.Join(absPath, child.Name()), "error", err)
			continue
		}
		entries = s.walk(entries, filepath.Join(absPath, child.Name()), relPath+"/"+child.Name(), childInfo)
	}

	return entries
}
