package rtc

import (
	"sync"

	"callkit/signal"
)

// Store is the single source of truth for participant state. All
// cross-component mutation funnels through it: the dispatcher-driven
// event handlers, the subscriber's track routing and the publisher's
// local-track bookkeeping all apply patches here, and external readers
// observe immutable snapshots.
type Store struct {
	mu           sync.RWMutex
	participants map[string]Participant
	order        []string

	// notifyMu serializes listener delivery so snapshots arrive in
	// mutation order.
	notifyMu sync.Mutex

	nextListener uint64
	listeners    map[uint64]func([]Participant)
}

func NewStore() *Store {
	return &Store{
		participants: make(map[string]Participant),
		listeners:    make(map[uint64]func([]Participant)),
	}
}

// RegisterAll seeds the store from a join-response snapshot. The entry
// whose session id matches ownSessionID is marked as the local user;
// all previous entries are discarded.
func (s *Store) RegisterAll(snapshot []signal.Participant, ownSessionID string) {
	s.mu.Lock()
	s.participants = make(map[string]Participant, len(snapshot))
	s.order = s.order[:0]
	for _, wire := range snapshot {
		p := participantFromSnapshot(wire)
		p.IsLocalUser = wire.SessionID == ownSessionID
		if _, ok := s.participants[p.SessionID]; !ok {
			s.order = append(s.order, p.SessionID)
		}
		s.participants[p.SessionID] = p
	}
	s.notifyAndUnlock()
}

// Register adds or overwrites a single participant.
func (s *Store) Register(p Participant) {
	s.mu.Lock()
	if _, ok := s.participants[p.SessionID]; !ok {
		s.order = append(s.order, p.SessionID)
	}
	s.participants[p.SessionID] = p
	s.notifyAndUnlock()
}

// Patch applies an updater to the participant with the given session
// id. The updater must be pure: it may be re-applied and runs under the
// store lock. Returns false when no such participant exists.
func (s *Store) Patch(sessionID string, update func(Participant) Participant) bool {
	s.mu.Lock()
	p, ok := s.participants[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.participants[sessionID] = update(p)
	s.notifyAndUnlock()
	return true
}

// PatchAll applies an updater to every participant.
func (s *Store) PatchAll(update func(Participant) Participant) {
	s.mu.Lock()
	for _, id := range s.order {
		s.participants[id] = update(s.participants[id])
	}
	s.notifyAndUnlock()
}

// Remove drops the participant with the given session id.
func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	if _, ok := s.participants[sessionID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.participants, sessionID)
	for i, id := range s.order {
		if id == sessionID {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	s.notifyAndUnlock()
}

// Reset drops every participant. Session teardown runs this so no
// entry outlives its peer connection.
func (s *Store) Reset() {
	s.mu.Lock()
	if len(s.order) == 0 {
		s.mu.Unlock()
		return
	}
	s.participants = make(map[string]Participant)
	s.order = s.order[:0]
	s.notifyAndUnlock()
}

// Get returns a copy of one participant.
func (s *Store) Get(sessionID string) (Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[sessionID]
	return p, ok
}

// FindByLookupPrefix resolves the participant an inbound stream id
// correlates to.
func (s *Store) FindByLookupPrefix(prefix string) (Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if p := s.participants[id]; p.TrackLookupPrefix == prefix {
			return p, true
		}
	}
	return Participant{}, false
}

// Local returns the local user's entry.
func (s *Store) Local() (Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if p := s.participants[id]; p.IsLocalUser {
			return p, true
		}
	}
	return Participant{}, false
}

// All returns a fresh snapshot in join order. The returned slice is
// never mutated by the store afterwards.
func (s *Store) All() []Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []Participant {
	out := make([]Participant, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.participants[id])
	}
	return out
}

// Subscribe registers an observer that receives a snapshot after every
// mutation. Observers run on the mutating goroutine and must not
// mutate the store themselves. The returned func removes the
// registration.
func (s *Store) Subscribe(fn func(participants []Participant)) func() {
	s.mu.Lock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// notifyAndUnlock captures the snapshot and listener set while still
// holding the write lock, then delivers outside it. notifyMu is taken
// before the write lock drops, so listeners see mutations in the order
// they were applied.
func (s *Store) notifyAndUnlock() {
	snapshot := s.snapshotLocked()
	fns := make([]func([]Participant), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()

	for _, fn := range fns {
		fn(snapshot)
	}
}
