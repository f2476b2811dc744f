package core

import "tapesafe/internal/model"

// Store provides an interface for the durable index: tapes, jobs, the
// per-tape file tree, and per-tape key/value info. Implementations must make
// each mutating method atomic; CommitNodes in particular runs as a single
// transaction.
type Store interface {
	// Tape operations

	// AddTape registers a new tape.
	AddTape(tape *model.Tape) error

	// GetTape returns a tape by id, or nil when not registered.
	GetTape(tapeID string) (*model.Tape, error)

	// ListTapes returns all registered tapes ordered by id.
	ListTapes() ([]*model.Tape, error)

	// SetTapeEncrypted updates a tape's encrypted flag.
	SetTapeEncrypted(tapeID string, encrypted bool) error

	// Capacity accounting

	// GetUsedCapacity returns the bytes recorded as consumed on a tape.
	GetUsedCapacity(tapeID string) (int64, error)

	// AddUsedCapacity increments a tape's used capacity.
	AddUsedCapacity(tapeID string, delta int64) error

	// SetUsedCapacity overwrites a tape's used capacity.
	SetUsedCapacity(tapeID string, total int64) error

	// Job operations

	// CreateJob inserts a job row in RUNNING state and returns its id.
	CreateJob(tapeID string, action model.JobAction, backupType model.BackupType, ivHex string) (int64, error)

	// FinishJob moves a job to a terminal state with its final size and tag.
	FinishJob(jobID int64, status model.JobStatus, size int64, tagHex string) error

	// GetJob returns a job on a tape by id, or nil when absent.
	GetJob(tapeID string, jobID int64) (*model.Job, error)

	// ListJobs returns all jobs on a tape, most recent first.
	ListJobs(tapeID string) ([]*model.Job, error)

	// FindJobs returns jobs on a tape matching status and action, most
	// recent first.
	FindJobs(tapeID string, status model.JobStatus, action model.JobAction) ([]*model.Job, error)

	// HasJob reports whether a job id exists on a tape.
	HasJob(tapeID string, jobID int64) (bool, error)

	// InsertJob inserts a historical job row with an explicit id. Used only
	// by disaster recovery to replay manifests.
	InsertJob(job *model.Job) error

	// SumJobSizes returns the total recorded size of all jobs on a tape.
	SumJobSizes(tapeID string) (int64, error)

	// Node operations

	// CommitNodes inserts staged records into the tape's file tree in one
	// transaction, translating each record's parent position into the
	// durable id generated for that earlier record. The staged list is
	// ordered parent-before-child.
	CommitNodes(tapeID string, jobID int64, records []model.NodeRecord) error

	// ListNodes returns the children of parentID (root level when nil),
	// ordered with directories first, then by name.
	ListNodes(tapeID string, parentID *int64) ([]*model.Node, error)

	// CountNodesForJob returns how many index nodes a job committed.
	CountNodesForJob(tapeID string, jobID int64) (int64, error)

	// Per-tape key/value info (crypto parameters)

	// GetTapeInfo returns the value for key, with ok=false when unset.
	GetTapeInfo(tapeID, key string) (value string, ok bool, err error)

	// SetTapeInfo stores or replaces the value for key.
	SetTapeInfo(tapeID, key, value string) error

	// Close closes the underlying store.
	Close() error
}
