package core

import (
	"fmt"

	"tapesafe/internal/model"
)

// CapacityFunc maps a tape generation code to its nominal byte capacity.
type CapacityFunc func(generation string) int64

// Service is the orchestration layer that coordinates the index store, the
// tape medium, and the crypto engine to run backup, restore, verify, and
// recovery jobs. Exactly one job should be active against a given tape at a
// time; jobs against different tapes are independent.
type Service struct {
	store    Store
	medium   Medium
	logger   Logger
	clock    Clock
	capacity CapacityFunc
}

// NewService creates a Service with the provided dependencies.
func NewService(store Store, medium Medium, logger Logger, clock Clock, capacity CapacityFunc) *Service {
	return &Service{
		store:    store,
		medium:   medium,
		logger:   logger,
		clock:    clock,
		capacity: capacity,
	}
}

// RegisterTape validates and records a new tape.
func (s *Service) RegisterTape(tape *model.Tape) error {
	existing, err := s.store.GetTape(tape.ID)
	if err != nil {
		return fmt.Errorf("checking for existing tape: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("tape %s already exists", tape.ID)
	}

	tape.CreatedAt = s.clock.Now()
	if err := s.store.AddTape(tape); err != nil {
		return fmt.Errorf("adding tape: %w", err)
	}

	s.logger.Info("tape registered", "tape", tape.ID, "generation", tape.Generation)
	return nil
}

// GetTape returns a registered tape, or ErrTapeNotFound.
func (s *Service) GetTape(tapeID string) (*model.Tape, error) {
	return s.requireTape(tapeID)
}

// ListTapes returns all registered tapes.
func (s *Service) ListTapes() ([]*model.Tape, error) {
	return s.store.ListTapes()
}

// ListJobs returns a tape's job history, most recent first.
func (s *Service) ListJobs(tapeID string) ([]*model.Job, error) {
	if _, err := s.requireTape(tapeID); err != nil {
		return nil, err
	}
	return s.store.ListJobs(tapeID)
}

// requireTape loads a tape and fails with ErrTapeNotFound when absent.
func (s *Service) requireTape(tapeID string) (*model.Tape, error) {
	tape, err := s.store.GetTape(tapeID)
	if err != nil {
		return nil, fmt.Errorf("loading tape: %w", err)
	}
	if tape == nil {
		return nil, fmt.Errorf("%w: %s", ErrTapeNotFound, tapeID)
	}
	return tape, nil
}
