package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps documents in process memory. It backs tests and the
// in-memory mode of the server.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
	commits     int
	failCommit  error
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{collections: make(map[string]map[string][]byte)}
}

func (m *MemoryBackend) LoadCollection(_ context.Context, collection string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	docs := m.collections[collection]
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	records := make([]Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, Record{Collection: collection, ID: id, Body: append([]byte(nil), docs[id]...)})
	}
	return records, nil
}

func (m *MemoryBackend) LoadRecord(_ context.Context, collection, id string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	body, ok := m.collections[collection][id]
	if !ok {
		return Record{}, false, nil
	}
	return Record{Collection: collection, ID: id, Body: append([]byte(nil), body...)}, true, nil
}

func (m *MemoryBackend) Commit(_ context.Context, puts []Record, deletes []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCommit != nil {
		return m.failCommit
	}

	for _, rec := range puts {
		docs, ok := m.collections[rec.Collection]
		if !ok {
			docs = make(map[string][]byte)
			m.collections[rec.Collection] = docs
		}
		docs[rec.ID] = append([]byte(nil), rec.Body...)
	}
	for _, rec := range deletes {
		delete(m.collections[rec.Collection], rec.ID)
	}
	m.commits++
	return nil
}

// Count returns the number of documents in collection.
func (m *MemoryBackend) Count(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.collections[collection])
}

// Commits returns how many commits have been applied.
func (m *MemoryBackend) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

// FailCommits makes every later commit return err (nil restores normal behaviour).
func (m *MemoryBackend) FailCommits(err error) {
	m.mu.Lock()
	m.failCommit = err
	m.mu.Unlock()
}
