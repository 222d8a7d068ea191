package eventstats

import (
	"context"
	"sync"

	"github.com/pixelbot/pixelbot/internal/admission"
)

// MemoryStore keeps counters in process memory. It never expires anything and
// is meant for single-instance deployments and tests.
type MemoryStore struct {
	mu          sync.Mutex
	total       Counters
	byKind      map[admission.Kind]Counters
	byRequestor map[admission.RequestorID]Counters

	trackRequestors bool
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithTrackRequestors keeps per-requestor counters.
func WithTrackRequestors(track bool) MemoryOption {
	return func(s *MemoryStore) { s.trackRequestors = track }
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		byKind:      make(map[admission.Kind]Counters),
		byRequestor: make(map[admission.RequestorID]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Record(_ context.Context, ev admission.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.apply(ev)
	if ev.Kind != "" {
		c := s.byKind[ev.Kind]
		c.apply(ev)
		s.byKind[ev.Kind] = c
	}
	if s.trackRequestors && ev.Requestor != "" {
		c := s.byRequestor[ev.Requestor]
		c.apply(ev)
		s.byRequestor[ev.Requestor] = c
	}
	return nil
}

// Total returns the overall counters.
func (s *MemoryStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// ByKind returns a copy of the per-kind counters.
func (s *MemoryStore) ByKind() map[admission.Kind]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[admission.Kind]Counters, len(s.byKind))
	for k, v := range s.byKind {
		out[k] = v
	}
	return out
}

// ByRequestor returns a copy of the per-requestor counters.
func (s *MemoryStore) ByRequestor() map[admission.RequestorID]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[admission.RequestorID]Counters, len(s.byRequestor))
	for k, v := range s.byRequestor {
		out[k] = v
	}
	return out
}
