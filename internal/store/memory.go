package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memoryStore keeps documents in-process. Used by tests and as an ephemeral
// driver for local development without a database file.
type memoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func newMemory() Store {
	return &memoryStore{docs: map[string]Document{}}
}

func (m *memoryStore) Insert(_ context.Context, doc Document) (string, error) {
	if strings.TrimSpace(doc.Type) == "" {
		return "", fmt.Errorf("document type is required")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[doc.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicate, doc.ID)
	}
	cp := doc
	cp.Body = append([]byte(nil), doc.Body...)
	m.docs[doc.ID] = cp
	return doc.ID, nil
}

func (m *memoryStore) GetByID(_ context.Context, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc, nil
}

func (m *memoryStore) FindAll(_ context.Context, q Query) ([]Document, error) {
	m.mu.RLock()
	out := make([]Document, 0, 8)
	for _, doc := range m.docs {
		if q.Type != "" && doc.Type != q.Type {
			continue
		}
		if q.BatchID != "" && doc.BatchID != q.BatchID {
			continue
		}
		out = append(out, doc)
	}
	m.mu.RUnlock()

	switch q.Sort {
	case SortByCreatedAt:
		sort.Slice(out, func(i, j int) bool {
			if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].CreatedAt.Before(out[j].CreatedAt)
			}
			return out[i].ID < out[j].ID
		})
	default:
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	return out, nil
}

func (m *memoryStore) Close() error { return nil }
