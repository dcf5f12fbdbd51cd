package storage

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
	// Bucket names
	bucketWorkers     = []byte("workers")
	bucketTransitions = []byte("transitions")
)

const (
	// DBFileName is the journal file inside the state directory
	DBFileName = "pqhost.db"

	// DefaultMaxTransitions caps the transition log
	DefaultMaxTransitions = 500
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db             *bolt.DB
	maxTransitions int
}

// NewBoltStore opens (creating if needed) the journal in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketWorkers, bucketTransitions} {
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

	return &BoltStore{db: db, maxTransitions: DefaultMaxTransitions}, nil
}

// OpenReadOnly opens an existing journal without write access. It waits at
// most a second for a running pqhost to release its lock.
func OpenReadOnly(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, DBFileName)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("no journal at %s: %w", dbPath, err)
	}
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{ReadOnly: true, Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &BoltStore{db: db, maxTransitions: DefaultMaxTransitions}, nil
}

// SetMaxTransitions changes the transition log cap
func (s *BoltStore) SetMaxTransitions(n int) {
	if n > 0 {
		s.maxTransitions = n
	}
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Worker operations
func (s *BoltStore) SaveWorker(record *WorkerRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(record)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketWorkers).Put([]byte(record.Location), data)
	})
}

func (s *BoltStore) GetWorker(location string) (*WorkerRecord, error) {
	var record WorkerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkers).Get([]byte(location))
		if data == nil {
			return fmt.Errorf("worker %s: %w", location, ErrNotFound)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *BoltStore) ListWorkers() ([]*WorkerRecord, error) {
	var records []*WorkerRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(k, v []byte) error {
			var record WorkerRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, &record)
			return nil
		})
	})
	return records, err
}

func (s *BoltStore) DeleteWorker(location string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).Delete([]byte(location))
	})
}

// Transition operations

// AppendTransition assigns the next sequence number and trims the log to
// the configured cap.
func (s *BoltStore) AppendTransition(t *Transition) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTransitions)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		t.Seq = seq
		if t.At.IsZero() {
			t.At = time.Now()
		}
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}

		c := b.Cursor()
		count := 0
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}
		for excess := count - s.maxTransitions; excess > 0; excess-- {
			k, _ := c.First()
			if k == nil {
				break
			}
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListTransitions returns at most limit of the newest transitions, oldest
// first. A limit of zero or less returns all of them.
func (s *BoltStore) ListTransitions(limit int) ([]*Transition, error) {
	var out []*Transition
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTransitions).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var t Transition
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, &t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// IsNotFound reports whether err is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
