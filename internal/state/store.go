package state

import (
	"fmt"
	"sync"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Listener receives store notifications.
//
// topic is the changed topic, or "" when the notification is a full
// replay (listener registration, Clear, or a batched resync). The
// snapshot is shared by every listener of one notification and must be
// treated as read-only.
// Implementations are compared by identity in RemoveListener, so they
// should be pointer types.
type Listener interface {
	StateChanged(snapshot Snapshot, topic string)
}

// Store is the in-memory source of truth for live device state.
//
// All methods are safe for concurrent use. Mutations and the listener
// fan-out they trigger are serialised by dispatchMu; mu only protects
// the record map so readers never wait on a slow listener.
type Store struct {
	mu      sync.RWMutex
	records map[string]*Record

	dispatchMu sync.Mutex
	listeners  []Listener

	logger Logger
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*Record),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Clear removes every record and notifies listeners with an empty snapshot.
func (s *Store) Clear() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	s.records = make(map[string]*Record)
	s.mu.Unlock()

	s.logger.Debug("state store cleared")
	s.notifyLocked("")
}

// AddState inserts rec under topic if the topic is not already present.
// An existing record is never overwritten. It reports whether rec was
// inserted. notify=false suppresses the notification so callers can batch
// a resync and follow it with Notify.
func (s *Store) AddState(topic string, rec Record, notify bool) bool {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if _, exists := s.records[topic]; exists {
		s.mu.Unlock()
		return false
	}
	stored := rec.Clone()
	s.records[topic] = &stored
	s.mu.Unlock()

	if notify {
		s.notifyLocked(topic)
	}
	return true
}

// UpdateModel replaces the model half of an existing record. Missing
// topics are ignored. It reports whether a record was updated.
func (s *Store) UpdateModel(topic string, model Model, notify bool) bool {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	rec, ok := s.records[topic]
	if ok {
		rec.Model = model
	}
	s.mu.Unlock()

	if ok && notify {
		s.notifyLocked(topic)
	}
	return ok
}

// UpdateState decodes u into the live half of the record at topic and
// notifies listeners. An unknown topic is logged and reported as
// ErrUnknownTopic; a payload the record's kind cannot accept leaves the
// record untouched and returns ErrInvalidState.
func (s *Store) UpdateState(topic string, u Update) error {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	rec, ok := s.records[topic]
	if !ok {
		s.mu.Unlock()
		s.logger.Error("state update for unknown topic", "topic", topic)
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	next := rec.Clone()
	if err := apply(&next, u); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("decoding %s state for %s: %w", rec.Kind, topic, err)
	}
	*rec = next
	s.mu.Unlock()

	s.notifyLocked(topic)
	return nil
}

// Notify sends a full replay to every listener. It is used after a batch
// of notify=false mutations.
func (s *Store) Notify() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	s.notifyLocked("")
}

// AddListener registers l and immediately replays the current snapshot to
// it with an empty topic.
func (s *Store) AddListener(l Listener) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.listeners = append(s.listeners, l)
	l.StateChanged(s.Snapshot(), "")
}

// RemoveListener deregisters l. Unknown listeners are ignored.
func (s *Store) RemoveListener(l Listener) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	for i, existing := range s.listeners {
		if existing == l {
			s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Contains reports whether topic has a record.
func (s *Store) Contains(topic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[topic]
	return ok
}

// Get returns a copy of the record at topic.
func (s *Store) Get(topic string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[topic]
	if !ok {
		return Record{}, false
	}
	return rec.Clone(), true
}

// Snapshot returns a deep copy of every record.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(Snapshot, len(s.records))
	for topic, rec := range s.records {
		snap[topic] = rec.Clone()
	}
	return snap
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// notifyLocked fans out to listeners in registration order.
// Caller must hold dispatchMu.
func (s *Store) notifyLocked(topic string) {
	if len(s.listeners) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, l := range s.listeners {
		l.StateChanged(snap, topic)
	}
}
