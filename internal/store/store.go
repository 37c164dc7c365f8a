// Package store provides the unit-of-work persistence session used by the
// execution engine. Entities are stored as JSON documents grouped by
// collection; a Backend supplies the durable storage underneath.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Document is an entity that can be persisted by a Session.
type Document interface {
	Collection() string
	DocumentID() string
	SetDocumentID(id string)
}

// Record is the stored form of a document.
type Record struct {
	Collection string
	ID         string
	Body       []byte
}

// Backend is the durable storage behind sessions. Commit must apply all puts
// and deletes atomically.
type Backend interface {
	LoadCollection(ctx context.Context, collection string) ([]Record, error)
	LoadRecord(ctx context.Context, collection, id string) (Record, bool, error)
	Commit(ctx context.Context, puts []Record, deletes []Record) error
}

// Database hands out independent sessions over one backend.
type Database struct {
	backend Backend
}

// NewDatabase wraps backend.
func NewDatabase(backend Backend) *Database {
	return &Database{backend: backend}
}

// StartSession opens a new unit of work. Sessions are not shared: every
// caller gets its own identity map and pending changes.
func (d *Database) StartSession() *Session {
	return &Session{
		backend: d.backend,
		tracked: make(map[key]*entry),
	}
}

type key struct {
	collection string
	id         string
}

type entry struct {
	doc      Document
	original []byte // nil for documents stored in this session
	deleted  bool
}

// Session tracks documents loaded or stored through it and writes every change
// in one commit on SaveChanges. Documents returned by Load and Query are the
// tracked instances, so mutating them and calling SaveChanges persists the
// mutation.
type Session struct {
	mu      sync.Mutex
	backend Backend
	tracked map[key]*entry
	order   []key
	closed  bool
}

// Store schedules doc for insertion or update, assigning a new id when it has none.
func (s *Session) Store(_ context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	if doc.DocumentID() == "" {
		doc.SetDocumentID(uuid.New().String())
	}
	k := key{doc.Collection(), doc.DocumentID()}
	if e, ok := s.tracked[k]; ok {
		e.doc = doc
		e.deleted = false
		return nil
	}
	s.track(k, &entry{doc: doc})
	return nil
}

// Delete schedules doc for removal.
func (s *Session) Delete(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || doc.DocumentID() == "" {
		return
	}

	k := key{doc.Collection(), doc.DocumentID()}
	if e, ok := s.tracked[k]; ok {
		e.deleted = true
		return
	}
	s.track(k, &entry{doc: doc, original: []byte("{}"), deleted: true})
}

// SaveChanges commits every new, modified and deleted document. Unchanged
// loaded documents are not rewritten.
func (s *Session) SaveChanges(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	var puts, deletes []Record
	bodies := make(map[key][]byte)
	for _, k := range s.order {
		e := s.tracked[k]
		if e.deleted {
			if e.original != nil {
				deletes = append(deletes, Record{Collection: k.collection, ID: k.id})
			}
			continue
		}
		body, err := json.Marshal(e.doc)
		if err != nil {
			return fmt.Errorf("failed to marshal %s/%s: %w", k.collection, k.id, err)
		}
		if e.original != nil && bytes.Equal(body, e.original) {
			continue
		}
		puts = append(puts, Record{Collection: k.collection, ID: k.id, Body: body})
		bodies[k] = body
	}

	if len(puts) == 0 && len(deletes) == 0 {
		return nil
	}
	if err := s.backend.Commit(ctx, puts, deletes); err != nil {
		return fmt.Errorf("%w: %v", ErrCommitFailed, err)
	}

	// After a successful commit the session reflects the stored state.
	for k, body := range bodies {
		s.tracked[k].original = body
	}
	var kept []key
	for _, k := range s.order {
		if s.tracked[k].deleted {
			delete(s.tracked, k)
			continue
		}
		kept = append(kept, k)
	}
	s.order = kept
	return nil
}

// Close releases the session. Pending changes are discarded. Closing twice is
// harmless.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.tracked = nil
	s.order = nil
	return nil
}

// HasChanges reports whether SaveChanges would write anything.
func (s *Session) HasChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.order {
		e := s.tracked[k]
		if e.deleted {
			if e.original != nil {
				return true
			}
			continue
		}
		if e.original == nil {
			return true
		}
		body, err := json.Marshal(e.doc)
		if err != nil || !bytes.Equal(body, e.original) {
			return true
		}
	}
	return false
}

func (s *Session) track(k key, e *entry) {
	s.tracked[k] = e
	s.order = append(s.order, k)
}

// Documents are decoded into PT, the pointer type of T.
type documentPtr[T any] interface {
	*T
	Document
}

// Load returns the document with id, or nil when it does not exist.
func Load[T any, PT documentPtr[T]](ctx context.Context, s *Session, id string) (PT, error) {
	collection := PT(new(T)).Collection()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if e, ok := s.tracked[key{collection, id}]; ok {
		s.mu.Unlock()
		if e.deleted {
			return nil, nil
		}
		doc, _ := e.doc.(PT)
		return doc, nil
	}
	s.mu.Unlock()

	rec, found, err := s.backend.LoadRecord(ctx, collection, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s/%s: %w", collection, id, err)
	}
	if !found {
		return nil, nil
	}
	return adopt[T, PT](s, rec)
}

// Query returns every document in T's collection matching match (nil matches
// all). Documents stored in this session but not yet saved are included;
// documents deleted in this session are not.
func Query[T any, PT documentPtr[T]](ctx context.Context, s *Session, match func(PT) bool) ([]PT, error) {
	collection := PT(new(T)).Collection()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}

	records, err := s.backend.LoadCollection(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}

	seen := make(map[string]bool, len(records))
	var results []PT
	for _, rec := range records {
		seen[rec.ID] = true
		doc, err := adopt[T, PT](s, rec)
		if err != nil {
			return nil, err
		}
		if doc != nil && (match == nil || match(doc)) {
			results = append(results, doc)
		}
	}

	s.mu.Lock()
	var pending []PT
	for _, k := range s.order {
		if k.collection != collection || seen[k.id] {
			continue
		}
		e := s.tracked[k]
		if e.deleted {
			continue
		}
		if doc, ok := e.doc.(PT); ok {
			pending = append(pending, doc)
		}
	}
	s.mu.Unlock()

	for _, doc := range pending {
		if match == nil || match(doc) {
			results = append(results, doc)
		}
	}
	return results, nil
}

// First returns the first document matching match, or nil.
func First[T any, PT documentPtr[T]](ctx context.Context, s *Session, match func(PT) bool) (PT, error) {
	docs, err := Query[T, PT](ctx, s, match)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// adopt returns the tracked instance for rec, decoding and tracking it when the
// session has not seen it yet. Deleted documents yield nil.
func adopt[T any, PT documentPtr[T]](s *Session, rec Record) (PT, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	k := key{rec.Collection, rec.ID}
	if e, ok := s.tracked[k]; ok {
		if e.deleted {
			return nil, nil
		}
		doc, _ := e.doc.(PT)
		return doc, nil
	}

	doc := PT(new(T))
	if err := json.Unmarshal(rec.Body, doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", rec.Collection, rec.ID, err)
	}
	doc.SetDocumentID(rec.ID)

	// Keep the canonical encoding so an untouched document compares equal on save.
	canonical, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode %s/%s: %w", rec.Collection, rec.ID, err)
	}
	s.track(k, &entry{doc: doc, original: canonical})
	return doc, nil
}
