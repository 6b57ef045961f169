package analytics

import (
	"context"
	"sync"
)

// MockSink collects observations in memory for tests.
type MockSink struct {
	mu           sync.Mutex
	Observations []Observation
}

// NewMockSink creates a mock analytics sink.
func NewMockSink() *MockSink {
	return &MockSink{}
}

// RecordObservation appends the observation to the in-memory slice.
func (m *MockSink) RecordObservation(_ context.Context, obs Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Observations = append(m.Observations, obs)
	return nil
}

// Recorded returns a copy of the collected observations.
func (m *MockSink) Recorded() []Observation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Observation, len(m.Observations))
	copy(out, m.Observations)
	return out
}
