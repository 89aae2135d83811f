package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"travelflow-backend/models"
)

// MemoryDocumentStore keeps documents in process. Snapshots are delivered
// synchronously on the writer's goroutine after the write is stored.
type MemoryDocumentStore struct {
	mu     sync.Mutex
	docs   map[string][]byte
	subs   map[string]map[int]*memorySubscription
	nextID int
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		docs: make(map[string][]byte),
		subs: make(map[string]map[int]*memorySubscription),
	}
}

type memorySubscription struct {
	store      *MemoryDocumentStore
	userID     string
	id         int
	onSnapshot func([]byte)
	once       sync.Once
}

func (s *memorySubscription) Close() {
	s.once.Do(func() {
		s.store.mu.Lock()
		defer s.store.mu.Unlock()
		delete(s.store.subs[s.userID], s.id)
	})
}

func (m *MemoryDocumentStore) Get(ctx context.Context, userID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyBytes(m.docs[userID]), nil
}

// Put stores a raw document, which lets callers seed legacy shapes.
func (m *MemoryDocumentStore) Put(userID string, raw []byte) {
	m.mu.Lock()
	m.docs[userID] = copyBytes(raw)
	listeners := m.listenersLocked(userID)
	m.mu.Unlock()

	for _, l := range listeners {
		l.onSnapshot(copyBytes(raw))
	}
}

func (m *MemoryDocumentStore) Write(ctx context.Context, userID string, doc *models.MultiTripDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding trip document: %w", err)
	}
	m.Put(userID, payload)
	return nil
}

func (m *MemoryDocumentStore) Subscribe(ctx context.Context, userID string, onSnapshot func([]byte), onError func(error)) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.nextID++
	sub := &memorySubscription{store: m, userID: userID, id: m.nextID, onSnapshot: onSnapshot}
	if m.subs[userID] == nil {
		m.subs[userID] = make(map[int]*memorySubscription)
	}
	m.subs[userID][sub.id] = sub
	current := copyBytes(m.docs[userID])
	m.mu.Unlock()

	onSnapshot(current)
	return sub, nil
}

func (m *MemoryDocumentStore) listenersLocked(userID string) []*memorySubscription {
	out := make([]*memorySubscription, 0, len(m.subs[userID]))
	for _, s := range m.subs[userID] {
		out = append(out, s)
	}
	return out
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
