package hrdoc

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"repairflow/test/pgxfake"
)

type memRepo struct {
	mu       sync.Mutex
	docs     map[int64]Document
	contents map[int64][]byte
	nextID   int64
}

func newMemRepo() *memRepo {
	return &memRepo{docs: map[int64]Document{}, contents: map[int64][]byte{}, nextID: 1}
}

func (m *memRepo) put(tx pgx.Tx, d Document, content []byte) {
	prev, existed := m.docs[d.ID]
	prevContent := m.contents[d.ID]
	m.docs[d.ID] = d
	if content != nil {
		m.contents[d.ID] = content
	}
	pgxfake.Journal(tx).OnRollback(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existed {
			m.docs[d.ID] = prev
			m.contents[d.ID] = prevContent
		} else {
			delete(m.docs, d.ID)
			delete(m.contents, d.ID)
		}
	})
}

func (m *memRepo) Create(ctx context.Context, tx pgx.Tx, doc Document) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.ID = m.nextID
	m.nextID++
	m.put(tx, doc, nil)
	return doc, nil
}

func (m *memRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Document, error) {
	return m.Get(ctx, id)
}

func (m *memRepo) MarkGenerated(ctx context.Context, tx pgx.Tx, doc Document, content []byte) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[doc.ID].Status != StatusPending {
		return Document{}, ErrStale
	}
	doc.Status = StatusGenerated
	m.put(tx, doc, content)
	return doc, nil
}

func (m *memRepo) MarkCompleted(ctx context.Context, tx pgx.Tx, id, actorID int64, at time.Time) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.docs[id]
	if doc.Status != StatusGenerated {
		return Document{}, ErrStale
	}
	doc.Status = StatusCompleted
	doc.CompletedBy = &actorID
	doc.CompletedAt = &at
	m.put(tx, doc, nil)
	return doc, nil
}

func (m *memRepo) Get(ctx context.Context, id int64) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return d, nil
}

func (m *memRepo) List(ctx context.Context, contractorID *int64) ([]Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Document{}
	for _, d := range m.docs {
		if contractorID == nil || d.ContractorID == *contractorID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) Content(ctx context.Context, id int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return nil, ErrNotFound
	}
	c, ok := m.contents[id]
	if !ok {
		return nil, ErrNotGenerated
	}
	return c, nil
}

type gate map[int64]bool

func (g gate) ContractorApproved(ctx context.Context, tx pgx.Tx, contractorID int64) (bool, error) {
	return g[contractorID], nil
}
