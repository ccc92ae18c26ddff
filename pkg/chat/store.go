// Package chat implements the message store: a durable record store wrapped
// with a memoized chronological view and a broadcast stream of change
// operations. Every public mutation runs persist -> invalidate -> emit, and
// is atomic with respect to readers.
package chat

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
	"chatsync/pkg/store"
	"chatsync/pkg/telemetry"
)

// ErrClosed is returned by mutations attempted after Close. Completion
// callbacks of in-flight remote requests hit this instead of corrupting a
// torn-down store.
var ErrClosed = errors.New("message store closed")

// Store is the single-owner message store. Mutations are serialized by an
// internal lock; reads of the sorted view may run concurrently with each
// other but never overlap a mutation's invalidate step. It is not designed
// for multiple independent writers beyond that.
type Store struct {
	mu      sync.RWMutex
	records *store.Store
	broker  *broker
	closed  bool

	// memoized sorted view; valid=false forces a recompute on next read
	view  []models.Message
	valid bool
}

// New wraps an opened record store. The caller keeps ownership of the record
// store's lifecycle; Close here releases only the operation stream.
func New(rs *store.Store) *Store {
	return &Store{records: rs, broker: newBroker()}
}

// Operations subscribes to the operation stream. Every operation emitted
// after the call is delivered in order; there is no replay. The returned
// cancel function releases the subscription.
func (s *Store) Operations() (<-chan Operation, func()) {
	return s.broker.subscribe()
}

// Close releases the operation stream. Further mutations return ErrClosed;
// further reads keep working against the last persisted state.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.broker.close()
	logger.Info("message_store_closed")
}

// Read returns the sorted view: ascending by SentAt, falling back to
// CreatedAt, then zero; ties keep their original insertion order. The
// returned slice is the caller's copy.
func (s *Store) Read() ([]models.Message, error) {
	s.mu.RLock()
	if s.valid {
		out := append([]models.Message(nil), s.view...)
		s.mu.RUnlock()
		return out, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.recomputeLocked(); err != nil {
		return nil, err
	}
	return append([]models.Message(nil), s.view...), nil
}

// recomputeLocked rebuilds the memoized view: full scan plus stable sort.
// Recompute cost is on the read path by design; invalidation on the mutation
// hot path is O(1).
func (s *Store) recomputeLocked() error {
	if s.valid {
		return nil
	}
	all, err := s.records.GetAll()
	if err != nil {
		return fmt.Errorf("load records: %w", err)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].SortKey() < all[j].SortKey() })
	s.view = all
	s.valid = true
	return nil
}

// viewLocked returns the current (fresh) sorted view without copying.
func (s *Store) viewLocked() ([]models.Message, error) {
	if err := s.recomputeLocked(); err != nil {
		return nil, err
	}
	return s.view, nil
}

// indexOfLocked resolves id against the current sorted view.
func (s *Store) indexOfLocked(id string) (int, models.Message, bool, error) {
	view, err := s.viewLocked()
	if err != nil {
		return 0, models.Message{}, false, err
	}
	for i, m := range view {
		if m.ID == id {
			return i, m, true, nil
		}
	}
	return 0, models.Message{}, false, nil
}

func (s *Store) emitLocked(op Operation) {
	s.broker.publish(op)
	telemetry.OperationsTotal.WithLabelValues(string(op.Kind)).Inc()
}

// Insert adds a new record. An id already present in the store makes the
// call a no-op: nothing is written and no operation is emitted.
//
// The emitted position is always the tail of the view, not the record's
// chronological slot; see Operation.
func (s *Store) Insert(m models.Message, animated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, _, found, err := s.indexOfLocked(m.ID)
	if err != nil {
		return err
	}
	if found {
		logger.Debug("insert_duplicate_ignored", "id", m.ID)
		return nil
	}
	if err := s.records.Put(m.ID, m); err != nil {
		telemetry.PersistFaultsTotal.Inc()
		return err
	}
	s.valid = false
	view, err := s.viewLocked()
	if err != nil {
		return err
	}
	s.emitLocked(Operation{Kind: OpInsert, Animated: animated, Message: m, Pos: len(view) - 1})
	return nil
}

// Remove deletes the record with m's id. Absent ids are a silent no-op: the
// target may already have been removed by a concurrent realtime event.
func (s *Store) Remove(m models.Message, animated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	idx, resolved, found, err := s.indexOfLocked(m.ID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := s.records.Delete(resolved.ID); err != nil {
		telemetry.PersistFaultsTotal.Inc()
		return err
	}
	s.valid = false
	s.emitLocked(Operation{Kind: OpRemove, Animated: animated, Message: resolved, Pos: idx})
	return nil
}

// Update replaces the stored record resolved by old's id with new. It is a
// no-op when the id is absent, or when the resolved record already equals
// updated by value. Reconciliation may change the record's id; the replacement
// is atomic so the old identity never coexists with the new one.
func (s *Store) Update(old, updated models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	idx, resolved, found, err := s.indexOfLocked(old.ID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if resolved.Equal(updated) {
		return nil
	}
	if resolved.ID != updated.ID {
		err = s.records.Replace(resolved.ID, updated.ID, updated)
	} else {
		err = s.records.Put(updated.ID, updated)
	}
	if err != nil {
		telemetry.PersistFaultsTotal.Inc()
		return err
	}
	s.valid = false
	s.emitLocked(Operation{Kind: OpUpdate, Animated: true, Old: resolved, New: updated, Pos: idx})
	return nil
}

// SetAll replaces the whole store contents. An empty input clears the store
// and emits a never-animated empty set operation regardless of animated.
// Duplicate ids within the input resolve to the last occurrence.
func (s *Store) SetAll(ms []models.Message, animated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.records.Clear(); err != nil {
		telemetry.PersistFaultsTotal.Inc()
		return err
	}
	if len(ms) == 0 {
		s.valid = false
		s.emitLocked(Operation{Kind: OpSet, Animated: false, Messages: []models.Message{}})
		return nil
	}
	if err := s.records.PutAll(ms); err != nil {
		telemetry.PersistFaultsTotal.Inc()
		return err
	}
	s.valid = false
	s.emitLocked(Operation{Kind: OpSet, Animated: animated, Messages: append([]models.Message(nil), ms...)})
	return nil
}

// InsertAll bulk-inserts records. Empty input is a no-op. StartPos of the
// emitted operation is the store size before the insert; like Insert, it is
// advisory only.
func (s *Store) InsertAll(ms []models.Message, animated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if len(ms) == 0 {
		return nil
	}
	before, err := s.viewLocked()
	if err != nil {
		return err
	}
	startPos := len(before)
	if err := s.records.PutAll(ms); err != nil {
		telemetry.PersistFaultsTotal.Inc()
		return err
	}
	s.valid = false
	s.emitLocked(Operation{Kind: OpInsertAll, Animated: animated, Messages: append([]models.Message(nil), ms...), Pos: startPos})
	return nil
}
