package core

const (
	tarBlockSize   = 512
	tarTrailerSize = 1024 // two zero end-of-archive blocks

	// capacityOverhead is the headroom factor applied to the raw content
	// size for the go/no-go capacity check. It covers tar header blocks,
	// block-boundary padding, and AES-GCM overhead conservatively; the
	// exact framing size from estimateTarSize is used for progress totals.
	capacityOverhead = 1.02
)

// estimateTarSize computes the exact archive framing cost for an entry set:
// one 512-byte header block per entry, file content padded to the next
// 512-byte boundary, plus the 1024-byte end-of-archive trailer.
func estimateTarSize(entries []SourceEntry) int64 {
	var total int64
	for _, e := range entries {
		total += tarBlockSize
		if !e.IsDir {
			total += e.Size + padToBlock(e.Size)
		}
	}
	return total + tarTrailerSize
}

func padToBlock(size int64) int64 {
	return (tarBlockSize - size%tarBlockSize) % tarBlockSize
}

// estimateWriteSize applies the overhead factor to the raw content sum for
// the capacity pre-check.
func estimateWriteSize(entries []SourceEntry) int64 {
	var content int64
	for _, e := range entries {
		if !e.IsDir {
			content += e.Size
		}
	}
	return int64(float64(content) * capacityOverhead)
}

// checkCapacity enforces the capacity gate. It must run, and pass, strictly
// before any job row, key material, or archive byte is created.
func (s *Service) checkCapacity(tapeID, generation string, entries []SourceEntry) error {
	estimated := estimateWriteSize(entries)

	used, err := s.store.GetUsedCapacity(tapeID)
	if err != nil {
		return err
	}

	available := s.capacity(generation) - used
	if estimated > available {
		return &CapacityError{Estimated: estimated, Available: available}
	}
	return nil
}
