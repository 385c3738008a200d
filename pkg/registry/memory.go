package registry

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryStore is an in-process Store: a per-instance map of
// collection -> key -> raw JSON value, guarded by a single mutex.
// Used by tests and by IS_TEST runs that don't set FORCE_FIRESTORE_DB
// (identity.Config.UseDurableRegistry).
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]map[string][]byte{}}
}

func (s *MemoryStore) collection(name string) map[string][]byte {
	c, ok := s.data[name]
	if !ok {
		c = map[string][]byte{}
		s.data[name] = c
	}
	return c
}

func (s *MemoryStore) Get(_ context.Context, collection, key string, out interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.collection(collection)[key]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (s *MemoryStore) Set(_ context.Context, collection, key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.collection(collection)[key] = raw
	return nil
}

// CompareAndSwap mirrors DBLocal._compare_and_swap: compare the
// current raw value against expected (both serialized through JSON so
// struct vs pointer vs nil comparisons are well defined), then only on
// a match does newValue get written.
func (s *MemoryStore) CompareAndSwap(_ context.Context, collection, key string, expected, newValue interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := s.collection(collection)
	current, exists := col[key]

	expectedRaw, err := marshalExpected(expected)
	if err != nil {
		return false, err
	}

	if expectedRaw == nil {
		if exists {
			return false, nil
		}
	} else if !exists || !jsonEqual(current, expectedRaw) {
		return false, nil
	}

	newRaw, err := json.Marshal(newValue)
	if err != nil {
		return false, err
	}
	col[key] = newRaw
	return true, nil
}

func (s *MemoryStore) Query(_ context.Context, collection string, match func(raw []byte) bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for k, raw := range s.collection(collection) {
		if match(raw) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Close() error { return nil }

func marshalExpected(expected interface{}) ([]byte, error) {
	if expected == nil {
		return nil, nil
	}
	return json.Marshal(expected)
}

// jsonEqual compares two JSON documents by unmarshalling into
// interface{} rather than byte-for-byte, so key ordering and
// formatting differences don't cause false CAS failures.
func jsonEqual(a, b []byte) bool {
	var av, bv interface{}
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return false
	}
	return deepEqualJSON(av, bv)
}

func deepEqualJSON(a, b interface{}) bool {
	aRaw, errA := json.Marshal(a)
	bRaw, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aRaw) == string(bRaw)
}
