// Package memory provides an in-memory ledger.Store (for testing/dev).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warp/calculator-engine/ledger"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	operations map[ledger.OperationID]ledger.Operation
	users      map[ledger.UserID]ledger.User
	records    map[ledger.RecordID]ledger.Record

	nextOperationID ledger.OperationID
	nextUserID      ledger.UserID
	nextRecordID    ledger.RecordID
}

func New() *Memory {
	return &Memory{
		operations: make(map[ledger.OperationID]ledger.Operation),
		users:      make(map[ledger.UserID]ledger.User),
		records:    make(map[ledger.RecordID]ledger.Record),
	}
}

// SeedOperations adds ops to the catalog, assigning ids in order.
func (m *Memory) SeedOperations(_ context.Context, ops []ledger.Operation) ([]ledger.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seeded := make([]ledger.Operation, len(ops))
	for i, op := range ops {
		m.nextOperationID++
		op.ID = m.nextOperationID
		m.operations[op.ID] = op
		seeded[i] = op
	}
	return seeded, nil
}

func (m *Memory) ListOperations(_ context.Context) ([]ledger.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ops := make([]ledger.Operation, 0, len(m.operations))
	for _, op := range m.operations {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].ID < ops[j].ID })
	return ops, nil
}

func (m *Memory) GetOperation(_ context.Context, id ledger.OperationID) (ledger.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	op, ok := m.operations[id]
	if !ok {
		return ledger.Operation{}, ledger.ErrOperationNotFound
	}
	return op, nil
}

func (m *Memory) CreateUser(_ context.Context, u ledger.User) (ledger.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.ExternalID == u.ExternalID {
			return ledger.User{}, ledger.ErrUserExists
		}
	}
	m.nextUserID++
	u.ID = m.nextUserID
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) GetUserByExternalID(_ context.Context, externalID string) (ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findUser(func(u ledger.User) bool { return u.ExternalID == externalID })
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findUser(func(u ledger.User) bool { return u.Username == username })
}

// findUser returns the matching user with the highest id.
func (m *Memory) findUser(match func(ledger.User) bool) (ledger.User, error) {
	var (
		found ledger.User
		ok    bool
	)
	for _, u := range m.users {
		if match(u) && (!ok || u.ID > found.ID) {
			found, ok = u, true
		}
	}
	if !ok {
		return ledger.User{}, ledger.ErrUserNotFound
	}
	return found, nil
}

func (m *Memory) ListRecords(_ context.Context, filter ledger.RecordFilter) ([]ledger.Record, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(filter.OperationType)
	var matched []ledger.Record
	for _, r := range m.records {
		user := m.users[r.UserID]
		op := m.operations[r.OperationID]
		if !r.Active || user.ExternalID != filter.ExternalID {
			continue
		}
		if !strings.Contains(strings.ToLower(op.Type), needle) {
			continue
		}
		matched = append(matched, m.hydrate(r))
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	start := filter.Offset()
	if start >= total {
		return []ledger.Record{}, total, nil
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (m *Memory) GetRecord(_ context.Context, id ledger.RecordID) (ledger.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return ledger.Record{}, ledger.ErrRecordNotFound
	}
	return m.hydrate(r), nil
}

func (m *Memory) DeactivateRecord(_ context.Context, id ledger.RecordID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return ledger.ErrRecordNotFound
	}
	r.Active = false
	m.records[id] = r
	return nil
}

func (m *Memory) hydrate(r ledger.Record) ledger.Record {
	op := m.operations[r.OperationID]
	user := m.users[r.UserID]
	r.Operation = &op
	r.User = &user
	return r
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The store lock is held for the whole of fn, which serializes debits.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	users        map[ledger.UserID]ledger.User
	records      map[ledger.RecordID]ledger.Record
	nextRecordID ledger.RecordID
}

func (m *Memory) snapshot() memorySnapshot {
	users := make(map[ledger.UserID]ledger.User, len(m.users))
	for k, v := range m.users {
		users[k] = v
	}
	records := make(map[ledger.RecordID]ledger.Record, len(m.records))
	for k, v := range m.records {
		records[k] = v
	}
	return memorySnapshot{users: users, records: records, nextRecordID: m.nextRecordID}
}

func (m *Memory) restore(s memorySnapshot) {
	m.users = s.users
	m.records = s.records
	m.nextRecordID = s.nextRecordID
}

type txView struct {
	parent *Memory
}

func (tv *txView) LockUser(_ context.Context, id ledger.UserID) (ledger.User, error) {
	u, ok := tv.parent.users[id]
	if !ok {
		return ledger.User{}, ledger.ErrUserNotFound
	}
	return u, nil
}

func (tv *txView) UpdateBalance(_ context.Context, u ledger.User) error {
	current, ok := tv.parent.users[u.ID]
	if !ok {
		return ledger.ErrUserNotFound
	}
	if current.Version != u.Version {
		return ledger.ErrConcurrentModification
	}
	current.Balance = u.Balance
	current.Version++
	tv.parent.users[u.ID] = current
	return nil
}

func (tv *txView) InsertRecord(_ context.Context, r ledger.Record) (ledger.Record, error) {
	if _, ok := tv.parent.users[r.UserID]; !ok {
		return ledger.Record{}, ledger.ErrUserNotFound
	}
	if _, ok := tv.parent.operations[r.OperationID]; !ok {
		return ledger.Record{}, ledger.ErrOperationNotFound
	}
	tv.parent.nextRecordID++
	r.ID = tv.parent.nextRecordID
	r.Operation, r.User = nil, nil
	tv.parent.records[r.ID] = r
	return tv.parent.hydrate(r), nil
}
