package request

import (
	"context"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"

	"repairflow/test/pgxfake"
)

type memRepo struct {
	mu        sync.Mutex
	requests  map[int64]Request
	responses map[int64]Response
	history   []HistoryEntry
	keys      map[string]int64
	nextID    int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		requests:  map[int64]Request{},
		responses: map[int64]Response{},
		keys:      map[string]int64{},
		nextID:    1,
	}
}

func (m *memRepo) id() int64 {
	id := m.nextID
	m.nextID++
	return id
}

func (m *memRepo) putRequest(tx pgx.Tx, req Request) {
	prev, existed := m.requests[req.ID]
	m.requests[req.ID] = req
	pgxfake.Journal(tx).OnRollback(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existed {
			m.requests[req.ID] = prev
		} else {
			delete(m.requests, req.ID)
		}
	})
}

func (m *memRepo) putResponse(tx pgx.Tx, resp Response) {
	prev, existed := m.responses[resp.ID]
	m.responses[resp.ID] = resp
	pgxfake.Journal(tx).OnRollback(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existed {
			m.responses[resp.ID] = prev
		} else {
			delete(m.responses, resp.ID)
		}
	})
}

func (m *memRepo) Create(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.ID = m.id()
	req.Version = 1
	m.putRequest(tx, req)
	return req, nil
}

func (m *memRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Request, error) {
	return m.Get(ctx, id)
}

func (m *memRepo) Update(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[req.ID]
	if !ok {
		return Request{}, ErrNotFound
	}
	if cur.Version != req.Version {
		return Request{}, ErrStale
	}
	req.Version++
	m.putRequest(tx, req)
	return req, nil
}

func (m *memRepo) Delete(ctx context.Context, tx pgx.Tx, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.requests, id)
	pgxfake.Journal(tx).OnRollback(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.requests[id] = prev
	})
	return nil
}

func (m *memRepo) Get(ctx context.Context, id int64) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (m *memRepo) List(ctx context.Context, filters Filters) ([]Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Request{}
	for _, req := range m.requests {
		if filters.CustomerID != nil && req.CustomerID != *filters.CustomerID {
			continue
		}
		if filters.ContractorID != nil && !req.Status.OpenForBids() && !assignedTo(req, *filters.ContractorID) {
			continue
		}
		if filters.Status != "" && req.Status != filters.Status {
			continue
		}
		if filters.City != "" && req.City != filters.City {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, len(out), nil
}

func (m *memRepo) AppendHistory(ctx context.Context, tx pgx.Tx, entry HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = m.id()
	m.history = append(m.history, entry)
	n := len(m.history)
	pgxfake.Journal(tx).OnRollback(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.history = m.history[:n-1]
	})
	return nil
}

func (m *memRepo) History(ctx context.Context, requestID int64) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []HistoryEntry{}
	for _, h := range m.history {
		if h.RequestID == requestID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memRepo) CreateResponse(ctx context.Context, tx pgx.Tx, resp Response) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.responses {
		if r.RequestID == resp.RequestID && r.ContractorID == resp.ContractorID {
			return Response{}, ErrDuplicateResponse
		}
	}
	resp.ID = m.id()
	m.putResponse(tx, resp)
	return resp, nil
}

func (m *memRepo) GetResponse(ctx context.Context, tx pgx.Tx, id int64) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.responses[id]
	if !ok {
		return Response{}, ErrResponseNotFound
	}
	return resp, nil
}

func (m *memRepo) MarkAccepted(ctx context.Context, tx pgx.Tx, responseID int64) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resp, ok := m.responses[responseID]
	if !ok {
		return Response{}, ErrResponseNotFound
	}
	for _, r := range m.responses {
		if r.RequestID == resp.RequestID && r.IsAccepted && r.ID != resp.ID {
			return Response{}, ErrAlreadyAssigned
		}
	}
	resp.IsAccepted = true
	m.putResponse(tx, resp)
	return resp, nil
}

func (m *memRepo) ListResponses(ctx context.Context, requestID int64) ([]Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Response{}
	for _, r := range m.responses {
		if r.RequestID == requestID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return ErrDuplicateIdempotencyKey
	}
	m.keys[key] = 0
	pgxfake.Journal(tx).OnRollback(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.keys, key)
	})
	return nil
}

func (m *memRepo) BindIdempotencyKey(ctx context.Context, tx pgx.Tx, key string, requestID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[key] = requestID
	return nil
}

func (m *memRepo) ResolveIdempotencyKey(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.keys[key]
	if !ok || id == 0 {
		return 0, ErrNotFound
	}
	return id, nil
}

// gate approves the contractors in its set.
type gate struct {
	mu       sync.Mutex
	approved map[int64]bool
}

func newGate(ids ...int64) *gate {
	g := &gate{approved: map[int64]bool{}}
	for _, id := range ids {
		g.approved[id] = true
	}
	return g
}

func (g *gate) revoke(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.approved, id)
}

func (g *gate) ContractorApproved(ctx context.Context, tx pgx.Tx, contractorID int64) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.approved[contractorID], nil
}
