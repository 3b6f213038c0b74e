package protomq

import (
	"sort"
	"sync"
)

// MemorySessionStore is an in-memory SessionStore. Snapshots are
// deep-copied on the way in and out so a live session cannot mutate a
// stored one.
type MemorySessionStore struct {
	mu        sync.RWMutex
	snapshots map[string]*SessionSnapshot
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		snapshots: make(map[string]*SessionSnapshot),
	}
}

// Save stores a snapshot, replacing any previous one for the client.
func (s *MemorySessionStore) Save(snapshot *SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snapshot.ClientID] = copySnapshot(snapshot)
	return nil
}

// Load retrieves the snapshot for a client.
func (s *MemorySessionStore) Load(clientID string) (*SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[clientID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return copySnapshot(snapshot), nil
}

// Delete removes the snapshot for a client.
func (s *MemorySessionStore) Delete(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.snapshots, clientID)
	return nil
}

// List returns the client IDs with stored snapshots, sorted.
func (s *MemorySessionStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.snapshots))
	for id := range s.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of stored snapshots.
func (s *MemorySessionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

func copySnapshot(in *SessionSnapshot) *SessionSnapshot {
	out := &SessionSnapshot{
		ClientID: in.ClientID,
		Version:  in.Version,
		TakenAt:  in.TakenAt,
	}
	if in.Subscriptions != nil {
		out.Subscriptions = append([]Subscription(nil), in.Subscriptions...)
	}
	if in.Inbound != nil {
		out.Inbound = append([]InboundRecord(nil), in.Inbound...)
	}
	for _, rec := range in.Outbound {
		copied := rec
		copied.Frame = append([]byte(nil), rec.Frame...)
		copied.Message = rec.Message.Clone()
		out.Outbound = append(out.Outbound, copied)
	}
	return out
}
