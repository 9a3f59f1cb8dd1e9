// Package history is a durable event trail supplementing the in-memory log
// buffer (SPEC_FULL.md §12): the manager appends a record for each start,
// stop and restart, and for each exit that leaves an entry Errored (a clean
// exit to Stopped is not recorded), readable back even after the daemon
// restarts. This
// is additive to the core spec, not a replacement for process.logRing.
package history

import (
	"encoding/binary"
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
)

// EventType is the kind of lifecycle transition recorded.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventRestart EventType = "restart"
	EventErrored EventType = "errored"
)

// Event is one recorded lifecycle transition for a named entry.
type Event struct {
	Name       string    `json:"name"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Detail     string    `json:"detail,omitempty"`
}

var bucketName = []byte("events")

// Store is a durable append-only event log backed by a single bbolt file.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt-backed event store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error { return s.db.Close() }

// Append records e durably, keyed by an auto-incrementing sequence so
// events retain insertion order within a name.
func (s *Store) Append(e Event) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName)
		seq, err := bkt.NextSequence()
		if err != nil {
			return err
		}
		key := append([]byte(e.Name+"\x00"), itob(seq)...)
		return bkt.Put(key, b)
	})
}

// ForName returns all recorded events for name in insertion order.
func (s *Store) ForName(name string) ([]Event, error) {
	var out []Event
	prefix := []byte(name + "\x00")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var e Event
			if jerr := json.Unmarshal(v, &e); jerr == nil {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
