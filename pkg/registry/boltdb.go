package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// BoltStore is the durable Store backend: one bbolt bucket per
// collection, each key holding a raw JSON value. It substitutes for
// the Firestore-backed DBFirestore the original worker used; bbolt
// gives the same get/set/compare-and-swap durability guarantees
// without a remote dependency.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a bbolt database file under
// dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "botworker.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("registry: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{CollectionJobs, CollectionInstances, CollectionSecrets} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func (s *BoltStore) Get(_ context.Context, collection, key string, out interface{}) error {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(collection)).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *BoltStore) Set(_ context.Context, collection, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(collection)).Put([]byte(key), raw)
	})
}

// CompareAndSwap runs entirely inside one bolt.Update transaction, the
// Go equivalent of DBFirestore._compare_and_swap's @firestore.transactional
// retry-on-conflict: bbolt serializes writers, so a single transaction
// already gives the same all-or-nothing guarantee without a retry loop.
func (s *BoltStore) CompareAndSwap(_ context.Context, collection, key string, expected, newValue interface{}) (bool, error) {
	expectedRaw, err := marshalExpected(expected)
	if err != nil {
		return false, err
	}
	newRaw, err := json.Marshal(newValue)
	if err != nil {
		return false, err
	}

	swapped := false
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		current := b.Get([]byte(key))

		if expectedRaw == nil {
			if current != nil {
				return nil
			}
		} else if current == nil || !jsonEqual(current, expectedRaw) {
			return nil
		}

		if err := b.Put([]byte(key), newRaw); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	return swapped, err
}

func (s *BoltStore) Query(_ context.Context, collection string, match func(raw []byte) bool) ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(collection)).ForEach(func(k, v []byte) error {
			if match(v) {
				keys = append(keys, string(k))
			}
			return nil
		})
	})
	return keys, err
}
