package medium

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"tapesafe/internal/core"
)

// FileSystemMedium is a filesystem-based implementation of the Medium
// interface. It stores one directory per tape:
//
//	<root>/
//	  <tapeID>/
//	    job_<id>.tar       (plaintext archive)
//	    job_<id>.tar.enc   (encrypted archive)
//	    job_<id>.json      (manifest sidecar)
type FileSystemMedium struct {
	root string
}

// NewFileSystemMedium creates a new filesystem medium rooted at the given path.
func NewFileSystemMedium(root string) (*FileSystemMedium, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create medium root: %w", err)
	}
	return &FileSystemMedium{root: root}, nil
}

func (m *FileSystemMedium) Writer(tapeID string, jobID int64, encrypted bool) (io.WriteCloser, error) {
	dir := filepath.Join(m.root, tapeID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create tape directory: %w", err)
	}

	final := filepath.Join(dir, archiveName(jobID, encrypted))
	tmp := final + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}
	return &atomicFile{f: f, tmp: tmp, final: final}, nil
}

func (m *FileSystemMedium) Reader(tapeID string, jobID int64, encrypted bool) (io.ReadCloser, error) {
	path := filepath.Join(m.root, tapeID, archiveName(jobID, encrypted))
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return f, nil
}

func (m *FileSystemMedium) ArtifactSize(tapeID string, jobID int64, encrypted bool) (int64, error) {
	path := filepath.Join(m.root, tapeID, archiveName(jobID, encrypted))
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat archive: %w", err)
	}
	return info.Size(), nil
}

func (m *FileSystemMedium) WriteManifest(tapeID string, jobID int64, data []byte) error {
	dir := filepath.Join(m.root, tapeID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create tape directory: %w", err)
	}
	path := filepath.Join(dir, manifestName(jobID))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func (m *FileSystemMedium) ReadManifest(tapeID string, jobID int64) ([]byte, error) {
	path := filepath.Join(m.root, tapeID, manifestName(jobID))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return data, nil
}

func (m *FileSystemMedium) ListManifests(tapeID string) ([]int64, error) {
	entries, err := os.ReadDir(filepath.Join(m.root, tapeID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list tape directory: %w", err)
	}

	var ids []int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, ok := manifestJobID(entry.Name())
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// atomicFile renames its temp file into place on Close, so a crashed write
// never leaves a partial artifact under the final name.
type atomicFile struct {
	f     *os.File
	tmp   string
	final string
}

func (a *atomicFile) Write(p []byte) (int, error) {
	return a.f.Write(p)
}

func (a *atomicFile) Close() error {
	if err := a.f.Sync(); err != nil {
		a.f.Close()
		os.Remove(a.tmp)
		return fmt.Errorf("failed to sync archive: %w", err)
	}
	if err := a.f.Close(); err != nil {
		os.Remove(a.tmp)
		return fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(a.tmp, a.final); err != nil {
		os.Remove(a.tmp)
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}

func archiveName(jobID int64, encrypted bool) string {
	if encrypted {
		return fmt.Sprintf("job_%d.tar.enc", jobID)
	}
	return fmt.Sprintf("job_%d.tar", jobID)
}

func manifestName(jobID int64) string {
	return fmt.Sprintf("job_%d.json", jobID)
}

// manifestJobID extracts the job id from a manifest file name.
func manifestJobID(name string) (int64, bool) {
	if !strings.HasPrefix(name, "job_") || !strings.HasSuffix(name, ".json") {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, "job_"), ".json"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Compile-time check that FileSystemMedium implements the core.Medium interface
var _ core.Medium = (*FileSystemMedium)(nil)
