package core

import (
	"fmt"
	"time"

	"tapesafe/internal/model"
)

// RecoverResult summarizes a disaster-recovery pass.
type RecoverResult struct {
	ManifestsFound int
	JobsRecovered  int
	NodesRecovered int
	Skipped        int // manifests skipped: already present or malformed
	UsedCapacity   int64
}

// RunRecovery rebuilds a tape's job history and file index purely from the
// manifest sidecars present on the medium. Jobs already in the index are
// skipped, making the operation idempotent. Recovered nodes are all parented
// at the root: the tree structure is not reconstructable from the flattened
// manifest file list, a known limitation of the sidecar format. A malformed
// manifest is skipped with a warning and does not abort the remaining work.
func (s *Service) RunRecovery(tapeID string) (*RecoverResult, error) {
	tape, err := s.requireTape(tapeID)
	if err != nil {
		return nil, err
	}

	jobIDs, err := s.medium.ListManifests(tapeID)
	if err != nil {
		return nil, fmt.Errorf("scanning tape for manifests: %w", err)
	}

	result := &RecoverResult{ManifestsFound: len(jobIDs)}
	s.logger.Info("recovery started", "tape", tapeID, "manifests", len(jobIDs))

	for _, jobID := range jobIDs {
		recovered, nodes, err := s.recoverJob(tape, jobID)
		if err != nil {
			s.logger.Warn("skipping manifest", "tape", tapeID, "job", jobID, "error", err)
			result.Skipped++
			continue
		}
		if !recovered {
			result.Skipped++
			continue
		}
		result.JobsRecovered++
		result.NodesRecovered += nodes
	}

	total, err := s.store.SumJobSizes(tapeID)
	if err != nil {
		return nil, fmt.Errorf("recomputing used capacity: %w", err)
	}
	if err := s.store.SetUsedCapacity(tapeID, total); err != nil {
		return nil, fmt.Errorf("updating used capacity: %w", err)
	}
	result.UsedCapacity = total

	s.logger.Info("recovery complete", "tape", tapeID,
		"jobs", result.JobsRecovered, "nodes", result.NodesRecovered, "skipped", result.Skipped)
	return result, nil
}

// recoverJob replays one manifest into the index. It returns recovered=false
// when the job id is already present.
func (s *Service) recoverJob(tape *model.Tape, jobID int64) (recovered bool, nodes int, err error) {
	data, err := s.medium.ReadManifest(tape.ID, jobID)
	if err != nil {
		return false, 0, fmt.Errorf("reading manifest: %w", err)
	}
	manifest, err := decodeManifest(data)
	if err != nil {
		return false, 0, err
	}

	exists, err := s.store.HasJob(tape.ID, manifest.JobID)
	if err != nil {
		return false, 0, fmt.Errorf("checking job presence: %w", err)
	}
	if exists {
		s.logger.Debug("job already present, skipping", "job", manifest.JobID)
		return false, 0, nil
	}

	if manifest.Encrypted && !tape.Encrypted {
		if err := s.store.SetTapeEncrypted(tape.ID, true); err != nil {
			return false, 0, fmt.Errorf("flagging tape encrypted: %w", err)
		}
		tape.Encrypted = true
	}

	ts := parseManifestTime(manifest.Timestamp)
	job := &model.Job{
		ID:         manifest.JobID,
		TapeID:     tape.ID,
		Action:     model.ActionBackup,
		BackupType: manifest.BackupType,
		StartedAt:  ts,
		FinishedAt: ts,
		Status:     model.StatusSuccess,
		IVHex:      manifest.Crypto.IVHex,
		TagHex:     manifest.Crypto.TagHex,
		Size:       manifest.TotalSize,
	}
	if err := s.store.InsertJob(job); err != nil {
		return false, 0, fmt.Errorf("inserting job: %w", err)
	}

	records := make([]model.NodeRecord, len(manifest.Files))
	for i, f := range manifest.Files {
		records[i] = model.NodeRecord{
			Name:  f.Name,
			IsDir: f.IsDir,
			Size:  f.Size,
			Mtime: f.Mtime,
		}
	}
	if err := s.store.CommitNodes(tape.ID, manifest.JobID, records); err != nil {
		return false, 0, fmt.Errorf("inserting nodes: %w", err)
	}

	return true, len(records), nil
}

func parseManifestTime(value string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
