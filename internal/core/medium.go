package core

import "io"

// Medium provides an interface for tape storage backends. A medium exposes a
// flat namespace per tape: one archive artifact per job id (its extension
// marking encrypted vs plain payload) plus one manifest sidecar per job,
// discoverable by prefix scan. All archive I/O is streaming.
type Medium interface {
	// Writer opens a new archive artifact for a job. The caller must Close
	// it; the artifact is considered durable only after a successful Close.
	Writer(tapeID string, jobID int64, encrypted bool) (io.WriteCloser, error)

	// Reader opens an existing archive artifact for a job.
	Reader(tapeID string, jobID int64, encrypted bool) (io.ReadCloser, error)

	// ArtifactSize returns the stored size of a job's archive artifact.
	ArtifactSize(tapeID string, jobID int64, encrypted bool) (int64, error)

	// WriteManifest stores the manifest sidecar for a job.
	WriteManifest(tapeID string, jobID int64, data []byte) error

	// ReadManifest retrieves the manifest sidecar for a job.
	ReadManifest(tapeID string, jobID int64) ([]byte, error)

	// ListManifests returns the job ids of all manifest sidecars present
	// on a tape, in ascending order.
	ListManifests(tapeID string) ([]int64, error)
}
