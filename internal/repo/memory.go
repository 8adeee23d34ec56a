package repo

import (
	"context"
	"sync"

	"github.com/richardliu001/account-events/internal/model"
)

// MemoryStore keeps events in process memory. Appends are serialized per
// aggregate id only; different aggregates never wait on each other.
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string]*memStream
}

type memStream struct {
	mu     sync.RWMutex
	events []model.Event
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: map[string]*memStream{}}
}

func (s *MemoryStore) stream(id string, create bool) *memStream {
	s.mu.RLock()
	st, ok := s.streams[id]
	s.mu.RUnlock()
	if ok || !create {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.streams[id]; !ok {
		st = &memStream{}
		s.streams[id] = st
	}
	return st
}

// Append stores evt if it is the next version of its aggregate.
func (s *MemoryStore) Append(ctx context.Context, evt model.Event) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	if err := validate(evt); err != nil {
		return Ack{}, err
	}

	st := s.stream(evt.AggregateID, true)
	st.mu.Lock()
	defer st.mu.Unlock()

	var (
		headType    string
		headVersion uint32
	)
	if n := len(st.events); n > 0 {
		headType, headVersion = st.events[n-1].AggregateType, st.events[n-1].AggregateVersion
	}
	if err := checkNext(evt, headType, headVersion); err != nil {
		return Ack{}, err
	}

	st.events = append(st.events, evt.Clone())
	return Ack{AggregateID: evt.AggregateID, AggregateVersion: evt.AggregateVersion}, nil
}

// Query returns copies of all matching events.
func (s *MemoryStore) Query(ctx context.Context, p Predicate) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var streams []*memStream
	if p.AggregateID != "" {
		if st := s.stream(p.AggregateID, false); st != nil {
			streams = append(streams, st)
		}
	} else {
		s.mu.RLock()
		for _, st := range s.streams {
			streams = append(streams, st)
		}
		s.mu.RUnlock()
	}

	out := make([]model.Event, 0)
	for _, st := range streams {
		st.mu.RLock()
		for _, evt := range st.events {
			if p.Match(evt) {
				out = append(out, evt.Clone())
			}
		}
		st.mu.RUnlock()
	}
	return out, nil
}

var _ EventStore = (*MemoryStore)(nil)
