package core

import (
	"fmt"
	"sort"
	"strings"

	"tapesafe/internal/crypto"
	"tapesafe/internal/model"
)

// buildNodes stages the index records for the entries selected for this run.
// The entries are ordered by relative path so every parent directory
// precedes its children; parent references use list positions, guaranteeing
// zero durable writes can occur before the archive stream has succeeded.
// The returned entry slice is in the same order as the records and is the
// order the archive must be written in.
func buildNodes(selected []SourceEntry, key []byte) ([]model.NodeRecord, []SourceEntry, error) {
	ordered := make([]SourceEntry, len(selected))
	copy(ordered, selected)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].RelPath < ordered[j].RelPath })

	posByRel := make(map[string]int, len(ordered))
	records := make([]model.NodeRecord, 0, len(ordered))

	for _, e := range ordered {
		name := baseName(e.RelPath)

		var parentIdx *int
		if parent := dirName(e.RelPath); parent != "" {
			if idx, ok := posByRel[parent]; ok {
				idx := idx
				parentIdx = &idx
			}
		}

		stored := name
		if key != nil {
			enc, err := crypto.EncryptName(name, key)
			if err != nil {
				return nil, nil, fmt.Errorf("obfuscating name %s: %w", name, err)
			}
			stored = enc
		}

		posByRel[e.RelPath] = len(records)
		records = append(records, model.NodeRecord{
			ParentIdx: parentIdx,
			Name:      stored,
			IsDir:     e.IsDir,
			Size:      e.Size,
			Mtime:     e.Mtime,
		})
	}

	return records, ordered, nil
}

// baseName returns the final element of a forward-slash relative path.
func baseName(relPath string) string {
	if i := strings.LastIndexByte(relPath, '/'); i >= 0 {
		return relPath[i+1:]
	}
	return relPath
}

// dirName returns the parent of a forward-slash relative path, or "" at root.
func dirName(relPath string) string {
	if i := strings.LastIndexByte(relPath, '/'); i >= 0 {
		return relPath[:i]
	}
	return ""
}
