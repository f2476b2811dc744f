package core

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"time"

	"tapesafe/internal/crypto"
	"tapesafe/internal/model"
)

// BackupRequest describes one backup run. The key, when present, must
// already be unlocked and verified by the caller.
type BackupRequest struct {
	TapeID      string
	Paths       []string
	Key         []byte // nil = plaintext archive
	Incremental bool
	// Confirm, when set, is consulted with the diff summary before an
	// incremental archive is written. Returning false cancels the run as a
	// clean no-op.
	Confirm func(stats DiffStats) bool
}

// BackupResult summarizes a completed backup job.
type BackupResult struct {
	JobID      int64
	BackupType model.BackupType
	Size       int64
	TagHex     string
	Entries    int
	Stats      DiffStats
}

// RunBackup executes a full or incremental backup onto a tape.
//
// Staging happens entirely in memory and the index commit is deferred until
// the archive stream has fully succeeded, so the durable index can never
// reference bytes that are not on the tape. A stream failure marks the job
// FAILED and skips the commit.
func (s *Service) RunBackup(req BackupRequest) (*BackupResult, error) {
	tape, err := s.requireTape(req.TapeID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("scanning source paths", "tape", tape.ID, "paths", len(req.Paths))
	entries, err := s.scanPaths(req.Paths)
	if err != nil {
		return nil, fmt.Errorf("scanning source paths: %w", err)
	}
	if len(entries) == 0 {
		return nil, ErrNothingToDo
	}

	selected := entries
	backupType := model.BackupFull
	var stats DiffStats

	if req.Incremental {
		snap := s.previousSnapshot(tape.ID)
		if snap == nil {
			s.logger.Warn("no usable previous backup, performing full backup", "tape", tape.ID)
		} else {
			changed, diffStats := diffEntries(entries, snap)
			stats = diffStats
			s.logger.Info("incremental analysis",
				"new", stats.New, "modified", stats.Modified, "unchanged", stats.Unchanged)

			if stats.Delta() == 0 {
				return nil, ErrNothingToDo
			}
			if req.Confirm != nil && !req.Confirm(stats) {
				return nil, ErrCancelled
			}
			selected = changed
			backupType = model.BackupIncremental
		}
	}

	// The capacity gate runs strictly before any state mutates.
	if err := s.checkCapacity(tape.ID, tape.Generation, selected); err != nil {
		return nil, err
	}

	var iv []byte
	var ivHex string
	if req.Key != nil {
		iv, err = crypto.NewIV()
		if err != nil {
			return nil, fmt.Errorf("generating IV: %w", err)
		}
		ivHex = hex.EncodeToString(iv)
	}

	jobID, err := s.store.CreateJob(tape.ID, model.ActionBackup, backupType, ivHex)
	if err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	s.logger.Info("indexing files", "job", jobID, "selected", len(selected), "scanned", len(entries))
	records, ordered, err := buildNodes(selected, req.Key)
	if err != nil {
		s.failJob(jobID)
		return nil, err
	}

	manifest := &Manifest{
		JobID:      jobID,
		BackupType: backupType,
		Timestamp:  s.clock.Now().UTC().Format(time.RFC3339),
		Encrypted:  req.Key != nil,
		Crypto:     ManifestCrypto{IVHex: ivHex},
		Files:      manifestFileList(entries),
	}

	tagHex, err := s.writeArchive(tape.ID, jobID, ordered, req.Key, iv)
	if err != nil {
		s.failJob(jobID)
		return nil, fmt.Errorf("writing archive: %w", err)
	}
	manifest.Crypto.TagHex = tagHex

	// The archive is durable; commit the staged index in one transaction.
	if err := s.store.CommitNodes(tape.ID, jobID, records); err != nil {
		s.failJob(jobID)
		return nil, fmt.Errorf("committing file index: %w", err)
	}

	size, err := s.medium.ArtifactSize(tape.ID, jobID, req.Key != nil)
	if err != nil {
		s.failJob(jobID)
		return nil, fmt.Errorf("sizing archive artifact: %w", err)
	}
	manifest.TotalSize = size

	data, err := encodeManifest(manifest)
	if err != nil {
		s.failJob(jobID)
		return nil, err
	}
	if err := s.medium.WriteManifest(tape.ID, jobID, data); err != nil {
		s.failJob(jobID)
		return nil, fmt.Errorf("writing manifest: %w", err)
	}

	if err := s.store.AddUsedCapacity(tape.ID, size); err != nil {
		return nil, fmt.Errorf("updating used capacity: %w", err)
	}
	if err := s.store.FinishJob(jobID, model.StatusSuccess, size, tagHex); err != nil {
		return nil, fmt.Errorf("finalizing job: %w", err)
	}

	s.logger.Info("backup complete", "job", jobID, "type", backupType, "size", size)
	return &BackupResult{
		JobID:      jobID,
		BackupType: backupType,
		Size:       size,
		TagHex:     tagHex,
		Entries:    len(ordered),
		Stats:      stats,
	}, nil
}

// previousSnapshot loads the most recent SUCCESS backup's manifest as a
// Snapshot. It returns nil when no prior job exists or the manifest is
// unreadable; the caller then falls back to a full backup.
func (s *Service) previousSnapshot(tapeID string) Snapshot {
	jobs, err := s.store.FindJobs(tapeID, model.StatusSuccess, model.ActionBackup)
	if err != nil {
		s.logger.Warn("cannot query previous jobs", "tape", tapeID, "error", err)
		return nil
	}
	if len(jobs) == 0 {
		return nil
	}

	data, err := s.medium.ReadManifest(tapeID, jobs[0].ID)
	if err != nil {
		s.logger.Warn("previous manifest unreadable", "tape", tapeID, "job", jobs[0].ID, "error", err)
		return nil
	}
	manifest, err := decodeManifest(data)
	if err != nil {
		s.logger.Warn("previous manifest malformed", "tape", tapeID, "job", jobs[0].ID, "error", err)
		return nil
	}
	return snapshotFromManifest(manifest)
}

// writeArchive streams the selected entries as a tar archive onto the tape,
// through the AEAD stage when a key is present. It returns the GCM tag (or
// the plaintext SHA-256 digest) as hex.
func (s *Service) writeArchive(tapeID string, jobID int64, ordered []SourceEntry, key, iv []byte) (string, error) {
	w, err := s.medium.Writer(tapeID, jobID, key != nil)
	if err != nil {
		return "", fmt.Errorf("opening tape writer: %w", err)
	}

	tagHex, err := s.composeAndWrite(w, ordered, key, iv)
	if closeErr := w.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("closing tape writer: %w", closeErr)
	}
	if err != nil {
		return "", err
	}
	return tagHex, nil
}

func (s *Service) composeAndWrite(w io.Writer, ordered []SourceEntry, key, iv []byte) (string, error) {
	// Stage order: counting/hashing, then AEAD when encrypted, then the tar
	// encoder. The plaintext digest is only computed when there is no AEAD
	// tag to serve as the integrity reference.
	counter := newCountingWriter(w, key == nil)

	var dst io.Writer = counter
	var enc *crypto.StreamEncrypter
	if key != nil {
		var err error
		enc, err = crypto.NewStreamEncrypter(counter, key, iv)
		if err != nil {
			return "", err
		}
		dst = enc
	}

	tw := tar.NewWriter(dst)
	for _, e := range ordered {
		if err := writeTarEntry(tw, e); err != nil {
			return "", err
		}
	}
	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("closing tar stream: %w", err)
	}

	if enc != nil {
		return hex.EncodeToString(enc.Finalize()), nil
	}
	return counter.SumHex(), nil
}

func writeTarEntry(tw *tar.Writer, e SourceEntry) error {
	hdr := &tar.Header{
		Name:    e.RelPath,
		Mode:    int64(e.Mode),
		Size:    e.Size,
		ModTime: time.Unix(int64(e.Mtime), 0),
		// USTAR keeps the framing at exactly one 512-byte header block per
		// entry, which the capacity estimator depends on.
		Format: tar.FormatUSTAR,
	}
	if e.IsDir {
		hdr.Typeflag = tar.TypeDir
		hdr.Name += "/"
		hdr.Size = 0
	} else {
		hdr.Typeflag = tar.TypeReg
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", e.RelPath, err)
	}
	if e.IsDir {
		return nil
	}

	f, err := os.Open(e.AbsPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", e.AbsPath, err)
	}
	defer f.Close()

	if _, err := io.CopyN(tw, f, e.Size); err != nil {
		return fmt.Errorf("archiving %s: %w", e.AbsPath, err)
	}
	return nil
}

// failJob finalizes a job as FAILED; the index commit for it is skipped so
// the store never references an incomplete archive.
func (s *Service) failJob(jobID int64) {
	if err := s.store.FinishJob(jobID, model.StatusFailed, 0, ""); err != nil {
		s.logger.Error("cannot mark job failed", "job", jobID, "error", err)
	}
}

// countingWriter counts bytes passed through and optionally hashes them.
type countingWriter struct {
	w    io.Writer
	n    int64
	hash hash.Hash
}

func newCountingWriter(w io.Writer, withHash bool) *countingWriter {
	cw := &countingWriter{w: w}
	if withHash {
		cw.hash = sha256.New()
	}
	return cw
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if c.hash != nil && n > 0 {
		c.hash.Write(p[:n])
	}
	return n, err
}

func (c *countingWriter) Count() int64 { return c.n }

// SumHex returns the hex SHA-256 of everything written, or "" when hashing
// is disabled.
func (c *countingWriter) SumHex() string {
	if c.hash == nil {
		return ""
	}
	return hex.EncodeToString(c.hash.Sum(nil))
}
