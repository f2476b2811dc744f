package model

import "time"

// JobAction identifies what kind of work a job performed.
type JobAction string

const (
	ActionBackup JobAction = "BACKUP"
	ActionVerify JobAction = "VERIFY"
)

// BackupType distinguishes full from incremental backup jobs.
// Non-backup jobs carry BackupNA.
type BackupType string

const (
	BackupFull        BackupType = "FULL"
	BackupIncremental BackupType = "INCREMENTAL"
	BackupNA          BackupType = "N/A"
)

// JobStatus is the lifecycle state of a job. A job is created RUNNING and
// moves to exactly one terminal state when its stream closes.
type JobStatus string

const (
	StatusRunning JobStatus = "RUNNING"
	StatusSuccess JobStatus = "SUCCESS"
	StatusFailed  JobStatus = "FAILED"
	// StatusPartial is a terminal state for VERIFY jobs where some targets
	// were skipped for lack of a key but none were corrupted.
	StatusPartial JobStatus = "PARTIAL"
)

// Tape represents one registered storage medium.
type Tape struct {
	ID           string // Operator-assigned identifier (e.g. barcode value)
	Generation   string // Capacity class (L5 .. L10)
	Encrypted    bool
	CreatedAt    time.Time
	UsedCapacity int64 // Bytes consumed by SUCCESS backup jobs
	Description  string
}

// Job is one durable unit of work against a tape.
type Job struct {
	ID         int64
	TapeID     string
	Action     JobAction
	BackupType BackupType
	StartedAt  time.Time
	FinishedAt time.Time
	Status     JobStatus
	IVHex      string // AES-GCM IV for encrypted jobs, empty otherwise
	TagHex     string // GCM tag (encrypted) or SHA-256 digest (plaintext)
	Size       int64  // Bytes written to the tape for this job
}

// Node is one committed entry in a tape's file index.
type Node struct {
	ID       int64
	TapeID   string
	ParentID *int64 // nil for root-level entries
	Name     string // Possibly obfuscated when the tape key is in use
	IsDir    bool
	Size     int64
	Mtime    float64 // Source mtime as Unix seconds; 0 for directories
	JobID    int64
}

// NodeRecord is a staged index entry held in memory until the archive stream
// has succeeded. The parent is referenced by position in the staging list,
// not by a durable id; the list is ordered so every parent precedes its
// children. Records are never mutated after creation.
type NodeRecord struct {
	ParentIdx *int   // Position of the parent in the staging list, nil at root
	Name      string // Stored name (obfuscated when a key is in use)
	IsDir     bool
	Size      int64
	Mtime     float64
}
