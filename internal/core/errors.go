package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNothingToDo signals an incremental backup whose diff against the
	// previous snapshot is empty. It is a valid terminal outcome, not a
	// failure; no job row is created.
	ErrNothingToDo = errors.New("no changes detected: nothing to back up")

	// ErrCancelled signals that the caller declined the incremental
	// confirmation. Nothing has been written when it is returned.
	ErrCancelled = errors.New("operation cancelled")

	// ErrJobNotFound signals a restore or verify target that does not exist
	// on the given tape.
	ErrJobNotFound = errors.New("job not found")

	// ErrMissingCryptoMaterial signals an encrypted job operated on without
	// a key, or with a job row lacking its IV or tag.
	ErrMissingCryptoMaterial = errors.New("missing crypto material")

	// ErrInvalidKey signals a passphrase or private key that fails the
	// stored key-hash check.
	ErrInvalidKey = errors.New("invalid passphrase or key")

	// ErrTapeNotFound signals an operation against an unregistered tape.
	ErrTapeNotFound = errors.New("tape not registered")
)

// CapacityError is raised by the pre-write capacity gate. It is always
// produced before any job row, key material, or archive byte exists.
type CapacityError struct {
	Estimated int64 // Estimated bytes the job would write
	Available int64 // Remaining capacity on the tape
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("insufficient space: estimated write %.2f GB, available %.2f GB",
		float64(e.Estimated)/1e9, float64(e.Available)/1e9)
}

// Shortfall returns how many bytes over the remaining capacity the job is.
func (e *CapacityError) Shortfall() int64 {
	return e.Estimated - e.Available
}
