package gate

import (
	"sync"
	"time"

	"github.com/alabenkhlifa/automobile-tn-scrapper/internal/domain"
)

// PartitionState is the mutable rate/circuit state of one partition. It is
// created by the orchestrator and mutated only by the gate, under mu.
type PartitionState struct {
	mu           sync.Mutex
	name         string
	baseDelay    time.Duration
	currentDelay time.Duration
	circuitOpen  bool
	stats        domain.FetchStats
}

// NewPartitionState creates the initial state: current delay at base, circuit closed
func NewPartitionState(name string, baseDelay time.Duration) *PartitionState {
	return &PartitionState{
		name:         name,
		baseDelay:    baseDelay,
		currentDelay: baseDelay,
	}
}

// Name returns the partition name
func (s *PartitionState) Name() string {
	return s.name
}

// CircuitOpen reports whether the partition stopped after a rate limit
func (s *PartitionState) CircuitOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.circuitOpen
}

// CurrentDelay returns the adaptive inter-request delay
func (s *PartitionState) CurrentDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentDelay
}

// Stats returns a copy of the partition's fetch counters
func (s *PartitionState) Stats() domain.FetchStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// shortCircuit counts a fetch rejected by an open circuit. Returns false when
// the circuit is closed and the fetch may proceed.
func (s *PartitionState) shortCircuit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.circuitOpen {
		return false
	}
	s.stats.ShortCircuited++
	return true
}

// recordAttempt counts one network call by outcome kind
func (s *PartitionState) recordAttempt(kind domain.OutcomeKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Attempted++
	switch kind {
	case domain.OutcomeSuccess:
		s.stats.Succeeded++
	case domain.OutcomeRateLimited:
		s.stats.RateLimited++
	case domain.OutcomeBlocked:
		s.stats.Blocked++
	case domain.OutcomeNotFound:
		s.stats.NotFound++
	default:
		s.stats.Errored++
	}
}

// openCircuit trips the circuit. The circuit never closes again within a run.
// Returns true on the closed->open transition.
func (s *PartitionState) openCircuit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.circuitOpen {
		return false
	}
	s.circuitOpen = true
	return true
}

// speedUp decays the delay towards base after a success
func (s *PartitionState) speedUp(factor float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentDelay > s.baseDelay {
		next := time.Duration(float64(s.currentDelay) * factor)
		if next < s.baseDelay {
			next = s.baseDelay
		}
		s.currentDelay = next
	}
	return s.currentDelay
}

// slowDown grows the delay after a soft block, capped at maxDelay
func (s *PartitionState) slowDown(factor float64, maxDelay time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := time.Duration(float64(s.currentDelay) * factor)
	if next < s.baseDelay {
		next = s.baseDelay
	}
	if maxDelay > s.baseDelay && next > maxDelay {
		next = maxDelay
	}
	s.currentDelay = next
	return s.currentDelay
}
