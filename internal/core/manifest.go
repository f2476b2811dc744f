package core

import (
	"encoding/json"
	"fmt"

	"tapesafe/internal/model"
)

// ManifestFile is one entry of a manifest's full current-state file list.
type ManifestFile struct {
	RelPath string  `json:"rel_path,omitempty"`
	Name    string  `json:"name"`
	IsDir   bool    `json:"is_dir"`
	Size    int64   `json:"size"`
	Mtime   float64 `json:"mtime,omitempty"`
}

// ManifestCrypto carries a job's out-of-band crypto parameters.
type ManifestCrypto struct {
	IVHex  string `json:"iv_hex,omitempty"`
	TagHex string `json:"tag_hex,omitempty"`
}

// Manifest is the durable JSON sidecar written once per job. Its file list
// always reflects the full current source state regardless of backup type,
// so any manifest is a valid baseline snapshot for the next incremental run.
type Manifest struct {
	JobID      int64            `json:"job_id"`
	BackupType model.BackupType `json:"backup_type"`
	Timestamp  string           `json:"timestamp"` // ISO-8601, UTC
	Encrypted  bool             `json:"encrypted"`
	Crypto     ManifestCrypto   `json:"crypto"`
	Files      []ManifestFile   `json:"files"`
	TotalSize  int64            `json:"total_size"`
}

// encodeManifest serializes a manifest with indentation, matching the
// human-inspectable sidecar format.
func encodeManifest(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	return data, nil
}

// decodeManifest parses a manifest sidecar. It tolerates the older variant
// whose file entries carry only a name: rel_path falls back to name and
// mtime to zero.
func decodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}

	for i := range m.Files {
		if m.Files[i].RelPath == "" {
			m.Files[i].RelPath = m.Files[i].Name
		}
	}
	if m.BackupType == "" {
		m.BackupType = model.BackupFull
	}
	return &m, nil
}

// manifestFileList converts a complete scan into the manifest's full-state
// file list.
func manifestFileList(entries []SourceEntry) []ManifestFile {
	files := make([]ManifestFile, len(entries))
	for i, e := range entries {
		files[i] = ManifestFile{
			RelPath: e.RelPath,
			Name:    baseName(e.RelPath),
			IsDir:   e.IsDir,
			Size:    e.Size,
			Mtime:   e.Mtime,
		}
	}
	return files
}
