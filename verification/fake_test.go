package verification

import (
	"context"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"

	"repairflow/contractor"
	"repairflow/test/pgxfake"
)

type memRepo struct {
	mu     sync.Mutex
	rows   map[int64]Verification
	nextID int64
}

func newMemRepo() *memRepo {
	return &memRepo{rows: map[int64]Verification{}, nextID: 1}
}

func (m *memRepo) put(tx pgx.Tx, v Verification) {
	prev, existed := m.rows[v.ID]
	m.rows[v.ID] = v
	pgxfake.Journal(tx).OnRollback(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existed {
			m.rows[v.ID] = prev
		} else {
			delete(m.rows, v.ID)
		}
	})
}

func (m *memRepo) Create(ctx context.Context, tx pgx.Tx, contractorID int64) (Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cycle := 0
	for _, v := range m.rows {
		if v.ContractorID == contractorID && v.Cycle > cycle {
			cycle = v.Cycle
		}
	}
	v := Verification{
		ID:             m.nextID,
		ContractorID:   contractorID,
		Cycle:          cycle + 1,
		SecurityStatus: StatusPending,
		ManagerStatus:  StatusPending,
		Version:        1,
	}
	m.nextID++
	m.put(tx, v)
	return v, nil
}

func (m *memRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (Verification, error) {
	return m.Get(ctx, id)
}

func (m *memRepo) LatestForUpdate(ctx context.Context, tx pgx.Tx, contractorID int64) (Verification, error) {
	return m.Latest(ctx, contractorID)
}

func (m *memRepo) LatestShared(ctx context.Context, tx pgx.Tx, contractorID int64) (Verification, error) {
	return m.Latest(ctx, contractorID)
}

func (m *memRepo) Update(ctx context.Context, tx pgx.Tx, v Verification) (Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[v.ID]
	if !ok {
		return Verification{}, ErrNotFound
	}
	if cur.Version != v.Version {
		return Verification{}, ErrStale
	}
	v.Version++
	m.put(tx, v)
	return v, nil
}

func (m *memRepo) Get(ctx context.Context, id int64) (Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.rows[id]
	if !ok {
		return Verification{}, ErrNotFound
	}
	return v, nil
}

func (m *memRepo) Latest(ctx context.Context, contractorID int64) (Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best  Verification
		found bool
	)
	for _, v := range m.rows {
		if v.ContractorID == contractorID && (!found || v.Cycle > best.Cycle) {
			best, found = v, true
		}
	}
	if !found {
		return Verification{}, ErrNotFound
	}
	return best, nil
}

func (m *memRepo) Queue(ctx context.Context, stage Stage, limit int) ([]Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Verification
	for _, v := range m.rows {
		waiting := v.SecurityStatus == StatusPending
		if stage == StageManager {
			waiting = v.SecurityStatus == StatusApproved && v.ManagerStatus == StatusPending
		}
		if waiting {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type profileMap map[int64]contractor.Profile

func (p profileMap) GetByID(ctx context.Context, userID int64) (contractor.Profile, error) {
	profile, ok := p[userID]
	if !ok {
		return contractor.Profile{}, contractor.ErrNotFound
	}
	return profile, nil
}

func completeProfile(id int64) contractor.Profile {
	return contractor.Profile{UserID: id, FullName: "Ivan Petrov", Phone: "+7 700 000 0000", City: "Almaty", Specialization: "HVAC"}
}
