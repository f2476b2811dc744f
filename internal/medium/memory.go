package medium

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"sync"

	"tapesafe/internal/core"
)

// MemoryMedium is an in-memory implementation of the Medium interface,
// useful for testing. Archives become visible only when their writer is
// closed. This implementation is safe for concurrent use.
type MemoryMedium struct {
	archives  map[string][]byte // "tapeID/job_N[.enc]" -> archive bytes
	manifests map[string]map[int64][]byte
	mu        sync.RWMutex
}

// NewMemoryMedium creates a new in-memory medium.
func NewMemoryMedium() *MemoryMedium {
	return &MemoryMedium{
		archives:  make(map[string][]byte),
		manifests: make(map[string]map[int64][]byte),
	}
}

func archiveKey(tapeID string, jobID int64, encrypted bool) string {
	return tapeID + "/" + archiveName(jobID, encrypted)
}

func (m *MemoryMedium) Writer(tapeID string, jobID int64, encrypted bool) (io.WriteCloser, error) {
	return &memoryWriter{
		medium: m,
		key:    archiveKey(tapeID, jobID, encrypted),
	}, nil
}

func (m *MemoryMedium) Reader(tapeID string, jobID int64, encrypted bool) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.archives[archiveKey(tapeID, jobID, encrypted)]
	if !ok {
		return nil, fmt.Errorf("archive not found for job %d", jobID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryMedium) ArtifactSize(tapeID string, jobID int64, encrypted bool) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.archives[archiveKey(tapeID, jobID, encrypted)]
	if !ok {
		return 0, fmt.Errorf("archive not found for job %d", jobID)
	}
	return int64(len(data)), nil
}

func (m *MemoryMedium) WriteManifest(tapeID string, jobID int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.manifests[tapeID] == nil {
		m.manifests[tapeID] = make(map[int64][]byte)
	}
	m.manifests[tapeID][jobID] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryMedium) ReadManifest(tapeID string, jobID int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.manifests[tapeID][jobID]
	if !ok {
		return nil, fmt.Errorf("manifest not found for job %d", jobID)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryMedium) ListManifests(tapeID string) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []int64
	for id := range m.manifests[tapeID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// DeleteArchive removes a stored archive. Test helper for simulating loss.
func (m *MemoryMedium) DeleteArchive(tapeID string, jobID int64, encrypted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.archives, archiveKey(tapeID, jobID, encrypted))
}

// CorruptArchive flips one byte at offset in a stored archive. Test helper.
func (m *MemoryMedium) CorruptArchive(tapeID string, jobID int64, encrypted bool, offset int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := archiveKey(tapeID, jobID, encrypted)
	if data, ok := m.archives[key]; ok && offset < len(data) {
		data[offset] ^= 0xff
	}
}

type memoryWriter struct {
	medium *MemoryMedium
	key    string
	buf    bytes.Buffer
	closed bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("write to closed archive")
	}
	return w.buf.Write(p)
}

func (w *memoryWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	w.medium.mu.Lock()
	defer w.medium.mu.Unlock()
	w.medium.archives[w.key] = append([]byte(nil), w.buf.Bytes()...)
	return nil
}

// Compile-time check that MemoryMedium implements the core.Medium interface
var _ core.Medium = (*MemoryMedium)(nil)
