package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"tapesafe/internal/crypto"
	"tapesafe/internal/model"
)

// Verdict is the per-job outcome of a verification pass.
type Verdict string

const (
	VerdictPassed    Verdict = "PASSED"
	VerdictSkipped   Verdict = "SKIPPED"
	VerdictCorrupted Verdict = "CORRUPTED"
)

// JobVerdict pairs a backup job with its verification outcome.
type JobVerdict struct {
	JobID   int64
	Verdict Verdict
	Detail  string // reason for a CORRUPTED or SKIPPED verdict
}

// VerifyResult is the aggregate outcome across all checked jobs.
type VerifyResult struct {
	VerifyJobID int64
	Overall     model.JobStatus
	Jobs        []JobVerdict
}

// RunVerify replays every SUCCESS backup job on a tape through the decrypt
// or digest path without extracting anything. Encrypted jobs pass iff GCM
// finalization succeeds and are skipped without a key; plaintext jobs pass
// iff the recomputed SHA-256 matches the recorded digest. The aggregate is
// recorded on a VERIFY job row: any CORRUPTED makes it FAILED, all PASSED
// makes it SUCCESS, and SKIPPED mixed with PASSED makes it PARTIAL.
func (s *Service) RunVerify(tapeID string, key []byte) (*VerifyResult, error) {
	if _, err := s.requireTape(tapeID); err != nil {
		return nil, err
	}

	// Query only BACKUP jobs so the VERIFY job created below never appears
	// in its own target list.
	jobs, err := s.store.FindJobs(tapeID, model.StatusSuccess, model.ActionBackup)
	if err != nil {
		return nil, fmt.Errorf("querying backup jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, ErrNothingToDo
	}

	verifyJobID, err := s.store.CreateJob(tapeID, model.ActionVerify, model.BackupNA, "")
	if err != nil {
		return nil, fmt.Errorf("creating verify job: %w", err)
	}

	result := &VerifyResult{VerifyJobID: verifyJobID}
	for _, job := range jobs {
		verdict := s.verifyJob(tapeID, job, key)
		result.Jobs = append(result.Jobs, verdict)
		s.logger.Info("job checked", "job", job.ID, "verdict", verdict.Verdict)
	}

	result.Overall = aggregateVerdicts(result.Jobs)
	if err := s.store.FinishJob(verifyJobID, result.Overall, 0, ""); err != nil {
		return nil, fmt.Errorf("finalizing verify job: %w", err)
	}

	s.logger.Info("verification complete", "tape", tapeID, "overall", result.Overall)
	return result, nil
}

func (s *Service) verifyJob(tapeID string, job *model.Job, key []byte) JobVerdict {
	encrypted := job.IVHex != ""

	if encrypted && key == nil {
		return JobVerdict{JobID: job.ID, Verdict: VerdictSkipped, Detail: "key required for encrypted job"}
	}

	r, err := s.medium.Reader(tapeID, job.ID, encrypted)
	if err != nil {
		return JobVerdict{JobID: job.ID, Verdict: VerdictCorrupted, Detail: err.Error()}
	}
	defer r.Close()

	if encrypted {
		return s.verifyEncrypted(job, key, r)
	}
	return s.verifyPlaintext(job, r)
}

// verifyEncrypted consumes the whole ciphertext; the verdict is the GCM
// finalization outcome.
func (s *Service) verifyEncrypted(job *model.Job, key []byte, r io.Reader) JobVerdict {
	iv, err := hex.DecodeString(job.IVHex)
	if err != nil {
		return JobVerdict{JobID: job.ID, Verdict: VerdictCorrupted, Detail: "malformed IV"}
	}
	if job.TagHex == "" {
		return JobVerdict{JobID: job.ID, Verdict: VerdictCorrupted, Detail: "missing authentication tag"}
	}
	tag, err := hex.DecodeString(job.TagHex)
	if err != nil {
		return JobVerdict{JobID: job.ID, Verdict: VerdictCorrupted, Detail: "malformed authentication tag"}
	}

	dec, err := crypto.NewStreamDecrypter(r, key, iv, tag)
	if err != nil {
		return JobVerdict{JobID: job.ID, Verdict: VerdictCorrupted, Detail: err.Error()}
	}

	if _, err := io.Copy(io.Discard, dec); err != nil {
		return JobVerdict{JobID: job.ID, Verdict: VerdictCorrupted, Detail: err.Error()}
	}
	return JobVerdict{JobID: job.ID, Verdict: VerdictPassed}
}

// verifyPlaintext recomputes the stream digest and compares it with the
// digest recorded at backup time.
func (s *Service) verifyPlaintext(job *model.Job, r io.Reader) JobVerdict {
	if job.TagHex == "" {
		return JobVerdict{JobID: job.ID, Verdict: VerdictCorrupted, Detail: "missing stored digest"}
	}

	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return JobVerdict{JobID: job.ID, Verdict: VerdictCorrupted, Detail: err.Error()}
	}

	computed := hex.EncodeToString(h.Sum(nil))
	if computed != job.TagHex {
		return JobVerdict{
			JobID:   job.ID,
			Verdict: VerdictCorrupted,
			Detail:  fmt.Sprintf("digest mismatch: expected %s, got %s", digestPrefix(job.TagHex), digestPrefix(computed)),
		}
	}
	return JobVerdict{JobID: job.ID, Verdict: VerdictPassed}
}

// digestPrefix shortens a digest for display. Jobs replayed from manifests
// can carry a stored digest of any length, so the cut is bounds-checked.
func digestPrefix(d string) string {
	if len(d) > 8 {
		return d[:8] + "..."
	}
	return d
}

func aggregateVerdicts(verdicts []JobVerdict) model.JobStatus {
	allPassed := true
	for _, v := range verdicts {
		switch v.Verdict {
		case VerdictCorrupted:
			return model.StatusFailed
		case VerdictSkipped:
			allPassed = false
		}
	}
	if allPassed {
		return model.StatusSuccess
	}
	return model.StatusPartial
}
