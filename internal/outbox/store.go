// Package outbox persists events before they are published so that a crash
// between a business operation and its notification does not lose the
// notification. Entries are relayed once, in the order they were enqueued.
package outbox

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketPending = []byte("outbox")
	bucketDead    = []byte("outbox_dead")
)

var ErrNotFound = errors.New("outbox entry not found")

// Kind selects how an entry is published.
type Kind string

const (
	KindNotification Kind = "notification"
	KindOrderStatus  Kind = "order_status"
	KindInventory    Kind = "inventory"
	KindEvent        Kind = "event"
)

// Entry is one event waiting to be published. Target is the identity for
// notifications, the order id for order status changes and the room for
// custom events (empty means every session).
type Entry struct {
	Seq        uint64          `json:"seq"`
	Kind       Kind            `json:"kind"`
	Target     string          `json:"target,omitempty"`
	Event      string          `json:"event,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

// DeadLetter is an entry that could not be published, with the reason.
type DeadLetter struct {
	Entry
	// Raw holds the stored bytes when the entry itself could not be decoded.
	Raw    []byte    `json:"raw,omitempty"`
	Reason string    `json:"reason"`
	DiedAt time.Time `json:"diedAt"`
}

type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the outbox database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create outbox dir: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open outbox: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketPending, bucketDead} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// Enqueue appends e and returns its sequence number. Sequence numbers only
// grow, so key order is enqueue order.
func (s *Store) Enqueue(e Entry) (uint64, error) {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPending)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		e.Seq = seq
		if e.EnqueuedAt.IsZero() {
			e.EnqueuedAt = time.Now().UTC()
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}
	return e.Seq, nil
}

// Pending returns up to limit entries in enqueue order. limit <= 0 returns
// all of them. Stored entries that no longer decode are moved to the
// dead-letter bucket with their raw bytes so they cannot block the queue.
func (s *Store) Pending(limit int) ([]Entry, error) {
	var entries []Entry
	err := s.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(bucketPending)
		var corrupt []DeadLetter

		c := pending.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				seq := binary.BigEndian.Uint64(k)
				corrupt = append(corrupt, DeadLetter{
					Entry:  Entry{Seq: seq},
					Raw:    append([]byte(nil), v...),
					Reason: fmt.Sprintf("decode entry %d: %v", seq, err),
					DiedAt: time.Now().UTC(),
				})
				continue
			}
			entries = append(entries, e)
		}

		for _, d := range corrupt {
			data, err := json.Marshal(d)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketDead).Put(itob(d.Seq), data); err != nil {
				return err
			}
			if err := pending.Delete(itob(d.Seq)); err != nil {
				return err
			}
		}
		return nil
	})
	return entries, err
}

// Ack removes a published entry.
func (s *Store) Ack(seq uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).Delete(itob(seq))
	})
}

// Kill moves an entry to the dead-letter bucket.
func (s *Store) Kill(e Entry, reason string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		pending := tx.Bucket(bucketPending)
		if pending.Get(itob(e.Seq)) == nil {
			return fmt.Errorf("%w: %d", ErrNotFound, e.Seq)
		}
		data, err := json.Marshal(DeadLetter{Entry: e, Reason: reason, DiedAt: time.Now().UTC()})
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDead).Put(itob(e.Seq), data); err != nil {
			return err
		}
		return pending.Delete(itob(e.Seq))
	})
}

func (s *Store) DeadLetters() ([]DeadLetter, error) {
	var dead []DeadLetter
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDead).ForEach(func(_, v []byte) error {
			var d DeadLetter
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			dead = append(dead, d)
			return nil
		})
	})
	return dead, err
}

// Len reports the number of pending entries.
func (s *Store) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketPending).Stats().KeyN
		return nil
	})
	return n, err
}
