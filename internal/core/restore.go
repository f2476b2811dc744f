package core

import (
	"archive/tar"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"tapesafe/internal/crypto"
)

// RestoreRequest describes one restore run. The key, when present, must
// already be unlocked and verified by the caller.
type RestoreRequest struct {
	TapeID string
	JobID  int64
	OutDir string
	Key    []byte
}

// RestoreResult summarizes a completed restore.
type RestoreResult struct {
	Files int
	Bytes int64
}

// RunRestore reads a job's archive from the tape, decrypting and verifying
// when the job was encrypted, and materializes every entry under the
// destination directory. A tag-verification failure surfaces as
// crypto.ErrIntegrity and the restore is never reported successful.
func (s *Service) RunRestore(req RestoreRequest) (*RestoreResult, error) {
	if _, err := s.requireTape(req.TapeID); err != nil {
		return nil, err
	}

	job, err := s.store.GetJob(req.TapeID, req.JobID)
	if err != nil {
		return nil, fmt.Errorf("loading job: %w", err)
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job %d on tape %s", ErrJobNotFound, req.JobID, req.TapeID)
	}

	encrypted := job.IVHex != ""
	if encrypted {
		if req.Key == nil {
			return nil, fmt.Errorf("%w: job %d is encrypted and no key was supplied", ErrMissingCryptoMaterial, job.ID)
		}
		if job.TagHex == "" {
			return nil, fmt.Errorf("%w: job %d has no authentication tag", ErrMissingCryptoMaterial, job.ID)
		}
	}

	r, err := s.medium.Reader(req.TapeID, req.JobID, encrypted)
	if err != nil {
		return nil, fmt.Errorf("opening tape reader: %w", err)
	}
	defer r.Close()

	var stream io.Reader = r
	if encrypted {
		iv, err := hex.DecodeString(job.IVHex)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed IV on job %d", ErrMissingCryptoMaterial, job.ID)
		}
		tag, err := hex.DecodeString(job.TagHex)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed tag on job %d", ErrMissingCryptoMaterial, job.ID)
		}
		stream, err = crypto.NewStreamDecrypter(r, req.Key, iv, tag)
		if err != nil {
			return nil, fmt.Errorf("composing decrypt stage: %w", err)
		}
	}

	s.logger.Info("restore started", "tape", req.TapeID, "job", req.JobID, "encrypted", encrypted)

	result, err := extractArchive(stream, req.OutDir)

	if encrypted {
		// The tar decoder stops at the end-of-archive marker, and
		// ciphertext corruption can surface as a decode error before the
		// tag was ever seen. Drain the remaining ciphertext so the tag
		// verdict decides either way.
		_, drainErr := io.Copy(io.Discard, stream)
		if errors.Is(drainErr, crypto.ErrIntegrity) {
			s.logger.Error("restore aborted: integrity failure", "job", req.JobID)
			return nil, drainErr
		}
		if err == nil && drainErr != nil {
			return nil, fmt.Errorf("draining archive stream: %w", drainErr)
		}
	}
	if err != nil {
		if errors.Is(err, crypto.ErrIntegrity) {
			s.logger.Error("restore aborted: integrity failure", "job", req.JobID)
			return nil, err
		}
		return nil, fmt.Errorf("extracting archive: %w", err)
	}

	s.logger.Info("restore complete", "job", req.JobID, "files", result.Files, "bytes", result.Bytes)
	return result, nil
}

// extractArchive decodes a tar stream into outDir. Entry names escaping the
// destination are rejected.
func extractArchive(stream io.Reader, outDir string) (*RestoreResult, error) {
	result := &RestoreResult{}
	tr := tar.NewReader(stream)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return result, nil
		}
		if err != nil {
			return nil, err
		}

		if !filepath.IsLocal(filepath.FromSlash(hdr.Name)) {
			return nil, fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}
		target := filepath.Join(outDir, filepath.FromSlash(hdr.Name))

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fs.FileMode(hdr.Mode).Perm()|0700); err != nil {
				return nil, fmt.Errorf("creating directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, fmt.Errorf("creating parent directory for %s: %w", target, err)
			}
			n, err := writeRestoredFile(target, tr, fs.FileMode(hdr.Mode).Perm())
			if err != nil {
				return nil, err
			}
			result.Files++
			result.Bytes += n
		default:
			// Symlinks, devices and the like are never produced by the
			// archive pipeline; skip anything unexpected.
			continue
		}
	}
}

func writeRestoredFile(target string, r io.Reader, mode fs.FileMode) (int64, error) {
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return 0, fmt.Errorf("creating file %s: %w", target, err)
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return n, fmt.Errorf("writing file %s: %w", target, err)
	}
	return n, nil
}
