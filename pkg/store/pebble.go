// Package store is the durable keyed record store backing the message
// engine. Records are JSON envelopes in a Pebble database, keyed by message
// id; the envelope carries a monotonic sequence so callers can recover the
// original insertion order (Pebble iterates in key order, which for ids is
// meaningless).
package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

const (
	msgPrefix = "msg:"
	seqKey    = "meta:seq"
)

// ErrNotOpen is returned when a store is used before Open or after Close.
var ErrNotOpen = errors.New("record store not open")

// Store is one durable record store instance. Unlike a process-global
// handle, every Store is explicitly constructed and closed by its owner.
type Store struct {
	db  *pebble.DB
	seq uint64
}

type envelope struct {
	Seq uint64         `json:"seq"`
	Msg models.Message `json:"msg"`
}

// Open opens (or creates) a Pebble database at path and restores the
// sequence counter from the persisted marker.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	s := &Store{db: db}
	if v, closer, err := db.Get([]byte(seqKey)); err == nil {
		if len(v) == 8 {
			s.seq = binary.BigEndian.Uint64(v)
		}
		_ = closer.Close()
	} else if err != pebble.ErrNotFound {
		_ = db.Close()
		return nil, fmt.Errorf("read seq marker: %w", err)
	}
	logger.Info("record_store_opened", "path", path, "seq", s.seq)
	return s, nil
}

// Close closes the underlying database. The store must not be used after.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("record_store_closed")
	return err
}

func (s *Store) nextSeq() uint64 {
	return atomic.AddUint64(&s.seq, 1)
}

func seqBytes(seq uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return b[:]
}

func msgKey(id string) []byte { return []byte(msgPrefix + id) }

// get reads the envelope for id; found=false when absent.
func (s *Store) get(id string) (envelope, bool, error) {
	v, closer, err := s.db.Get(msgKey(id))
	if err == pebble.ErrNotFound {
		return envelope{}, false, nil
	}
	if err != nil {
		return envelope{}, false, fmt.Errorf("get %s: %w", id, err)
	}
	defer closer.Close()
	var env envelope
	if err := json.Unmarshal(v, &env); err != nil {
		return envelope{}, false, fmt.Errorf("decode record %s: %w", id, err)
	}
	return env, true, nil
}

// Put stores m under id, durably. Overwriting an existing id keeps the
// record's original sequence so its relative order among timestamp ties does
// not change.
func (s *Store) Put(id string, m models.Message) error {
	if s.db == nil {
		return ErrNotOpen
	}
	prev, found, err := s.get(id)
	if err != nil {
		return err
	}
	var seq uint64
	if found {
		seq = prev.Seq
	} else {
		seq = s.nextSeq()
	}
	return s.write(id, seq, m, nil)
}

// Replace atomically deletes oldID and stores m under newID, carrying over
// the old record's sequence. Used when reconciliation rewrites a record's
// identity.
func (s *Store) Replace(oldID, newID string, m models.Message) error {
	if s.db == nil {
		return ErrNotOpen
	}
	prev, found, err := s.get(oldID)
	if err != nil {
		return err
	}
	if !found {
		return s.Put(newID, m)
	}
	return s.write(newID, prev.Seq, m, msgKey(oldID))
}

// write commits the envelope (and an optional delete) plus the seq marker in
// one synced batch.
func (s *Store) write(id string, seq uint64, m models.Message, deleteKey []byte) error {
	data, err := json.Marshal(envelope{Seq: seq, Msg: m})
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", id, err)
	}
	b := s.db.NewBatch()
	defer b.Close()
	if deleteKey != nil {
		if err := b.Delete(deleteKey, nil); err != nil {
			return fmt.Errorf("batch delete: %w", err)
		}
	}
	if err := b.Set(msgKey(id), data, nil); err != nil {
		return fmt.Errorf("batch set %s: %w", id, err)
	}
	if err := b.Set([]byte(seqKey), seqBytes(atomic.LoadUint64(&s.seq)), nil); err != nil {
		return fmt.Errorf("batch set seq: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("record_write_failed", "id", id, "error", err)
		return fmt.Errorf("commit record %s: %w", id, err)
	}
	logger.Debug("record_written", "id", id, "seq", seq)
	return nil
}

// PutAll stores all records in one synced batch, in input order. Duplicate
// ids within the input resolve to the last occurrence.
func (s *Store) PutAll(ms []models.Message) error {
	if s.db == nil {
		return ErrNotOpen
	}
	b := s.db.NewBatch()
	defer b.Close()
	for _, m := range ms {
		prev, found, err := s.get(m.ID)
		if err != nil {
			return err
		}
		var seq uint64
		if found {
			seq = prev.Seq
		} else {
			seq = s.nextSeq()
		}
		data, err := json.Marshal(envelope{Seq: seq, Msg: m})
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", m.ID, err)
		}
		if err := b.Set(msgKey(m.ID), data, nil); err != nil {
			return fmt.Errorf("batch set %s: %w", m.ID, err)
		}
	}
	if err := b.Set([]byte(seqKey), seqBytes(atomic.LoadUint64(&s.seq)), nil); err != nil {
		return fmt.Errorf("batch set seq: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("record_batch_write_failed", "count", len(ms), "error", err)
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Delete removes the record for id. Deleting an absent id is not an error.
func (s *Store) Delete(id string) error {
	if s.db == nil {
		return ErrNotOpen
	}
	if err := s.db.Delete(msgKey(id), pebble.Sync); err != nil {
		logger.Error("record_delete_failed", "id", id, "error", err)
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// Clear removes every record, leaving the sequence counter intact.
func (s *Store) Clear() error {
	if s.db == nil {
		return ErrNotOpen
	}
	// range delete over the msg: prefix; "msg;" is the next prefix byte-wise
	if err := s.db.DeleteRange([]byte(msgPrefix), []byte("msg;"), pebble.Sync); err != nil {
		logger.Error("record_clear_failed", "error", err)
		return fmt.Errorf("clear records: %w", err)
	}
	return nil
}

// GetAll returns every record in insertion (sequence) order. The order of
// keys in the underlying database carries no meaning and is never exposed.
func (s *Store) GetAll() ([]models.Message, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}
	prefix := []byte(msgPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("iterator: %w", err)
	}
	defer iter.Close()

	var envs []envelope
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var env envelope
		if err := json.Unmarshal(iter.Value(), &env); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", iter.Key(), err)
		}
		envs = append(envs, env)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	sort.Slice(envs, func(i, j int) bool { return envs[i].Seq < envs[j].Seq })
	out := make([]models.Message, len(envs))
	for i, e := range envs {
		out[i] = e.Msg
	}
	return out, nil
}

// Len counts stored records.
func (s *Store) Len() (int, error) {
	if s.db == nil {
		return 0, ErrNotOpen
	}
	prefix := []byte(msgPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, fmt.Errorf("iterator: %w", err)
	}
	defer iter.Close()
	n := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		n++
	}
	return n, iter.Error()
}
