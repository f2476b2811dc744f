package core

// mtimeTolerance absorbs filesystem timestamp rounding when comparing a
// scanned file against the previous snapshot.
const mtimeTolerance = 1.0

// Snapshot is an ephemeral lookup of relative path to prior file state,
// built from the previous manifest and discarded after the diff.
type Snapshot map[string]SnapshotEntry

// SnapshotEntry is a file's recorded state in a prior manifest.
type SnapshotEntry struct {
	Size  int64
	Mtime float64
}

// DiffStats counts the outcome of an incremental comparison.
type DiffStats struct {
	New       int
	Modified  int
	Unchanged int
}

// Delta returns the number of files that would be archived.
func (d DiffStats) Delta() int { return d.New + d.Modified }

// snapshotFromManifest builds a Snapshot from a prior manifest's file list.
func snapshotFromManifest(m *Manifest) Snapshot {
	snap := make(Snapshot, len(m.Files))
	for _, f := range m.Files {
		snap[f.RelPath] = SnapshotEntry{Size: f.Size, Mtime: f.Mtime}
	}
	return snap
}

// diffEntries compares the current scan against a prior snapshot and returns
// the entries that belong in an incremental archive. Directories are always
// selected; a file is selected when it is new or when its size or mtime
// (beyond the tolerance) has changed.
func diffEntries(entries []SourceEntry, snap Snapshot) ([]SourceEntry, DiffStats) {
	var selected []SourceEntry
	var stats DiffStats

	for _, e := range entries {
		if e.IsDir {
			selected = append(selected, e)
			continue
		}

		prev, ok := snap[e.RelPath]
		switch {
		case !ok:
			selected = append(selected, e)
			stats.New++
		case e.Size != prev.Size || abs(e.Mtime-prev.Mtime) > mtimeTolerance:
			selected = append(selected, e)
			stats.Modified++
		default:
			stats.Unchanged++
		}
	}

	return selected, stats
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
