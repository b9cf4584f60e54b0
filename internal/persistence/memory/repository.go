// Package memory provides an in-process attendance store for local development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/observability"
)

// Change is a committed mutation as seen by subscribers.
type Change = domain.Change

// Repository stores attendance records in memory. Mutations of one employee are serialised by a
// per-employee lock; reads only take the map lock and return copies.
type Repository struct {
	mu      sync.RWMutex
	records map[string]*domain.AttendanceRecord
	keys    map[string]string
	events  map[string][]domain.Event

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	subscribers []func(Change)
}

// NewRepository constructs an empty Repository.
func NewRepository() *Repository {
	return &Repository{
		records: make(map[string]*domain.AttendanceRecord),
		keys:    make(map[string]string),
		events:  make(map[string][]domain.Event),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Subscribe registers fn to receive every committed change, in commit order per employee.
func (r *Repository) Subscribe(fn func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

func employeeKey(tenantID, employeeID string) string {
	return tenantID + "\x00" + employeeID
}

func (r *Repository) employeeLock(key string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// Transact implements domain.Repository. Writes are staged and only published when fn succeeds.
func (r *Repository) Transact(ctx context.Context, tenantID, employeeID string, fn func(context.Context, domain.Tx) error) error {
	key := employeeKey(tenantID, employeeID)
	l := r.employeeLock(key)
	l.Lock()
	defer l.Unlock()

	tx := &memTx{repo: r, tenantID: tenantID, employeeID: employeeID}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.mu.Lock()
	for _, c := range tx.staged {
		rec := c.Record.Clone()
		r.records[rec.ID] = rec
		r.events[rec.ID] = append(r.events[rec.ID], c.Event)
		if c.Event.IdempotencyKey != "" {
			r.keys[key+"\x00"+c.Event.IdempotencyKey] = rec.ID
		}
	}
	subs := append([]func(Change){}, r.subscribers...)
	r.mu.Unlock()

	for _, c := range tx.staged {
		observability.RecordAttendanceEvent(string(c.Event.Kind), c.Event.At)
		for _, sub := range subs {
			sub(c)
		}
	}
	return nil
}

// FindOpen implements domain.Repository.
func (r *Repository) FindOpen(ctx context.Context, tenantID, employeeID string) (*domain.AttendanceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked(tenantID, employeeID, func(rec *domain.AttendanceRecord) bool { return rec.Open() }), nil
}

// FindByDate implements domain.Repository.
func (r *Repository) FindByDate(ctx context.Context, tenantID, employeeID, localDate string) (*domain.AttendanceRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.findLocked(tenantID, employeeID, func(rec *domain.AttendanceRecord) bool { return rec.LocalDate == localDate }), nil
}

// ListByEmployee implements domain.Repository, newest local date first.
func (r *Repository) ListByEmployee(ctx context.Context, tenantID, employeeID string, cursor *domain.Cursor, limit int) ([]domain.AttendanceRecord, *domain.Cursor, error) {
	r.mu.RLock()
	all := make([]domain.AttendanceRecord, 0)
	for _, rec := range r.records {
		if rec.TenantID == tenantID && rec.EmployeeID == employeeID {
			all = append(all, *rec.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].LocalDate != all[j].LocalDate {
			return all[i].LocalDate > all[j].LocalDate
		}
		return all[i].ID > all[j].ID
	})

	results := make([]domain.AttendanceRecord, 0, limit)
	for _, rec := range all {
		if cursor != nil && !before(rec, *cursor) {
			continue
		}
		results = append(results, rec)
		if len(results) == limit {
			break
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{LocalDate: last.LocalDate, ID: last.ID}
	}
	return results, next, nil
}

// Events returns the applied event log of a record.
func (r *Repository) Events(recordID string) []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.Event(nil), r.events[recordID]...)
}

func before(rec domain.AttendanceRecord, c domain.Cursor) bool {
	if rec.LocalDate != c.LocalDate {
		return rec.LocalDate < c.LocalDate
	}
	return rec.ID < c.ID
}

func (r *Repository) findLocked(tenantID, employeeID string, match func(*domain.AttendanceRecord) bool) *domain.AttendanceRecord {
	for _, rec := range r.records {
		if rec.TenantID == tenantID && rec.EmployeeID == employeeID && match(rec) {
			return rec.Clone()
		}
	}
	return nil
}

type memTx struct {
	repo       *Repository
	tenantID   string
	employeeID string
	staged     []Change
}

// find prefers a record written earlier in this transaction over committed state.
func (tx *memTx) find(match func(*domain.AttendanceRecord) bool) *domain.AttendanceRecord {
	for i := len(tx.staged) - 1; i >= 0; i-- {
		rec := tx.staged[i].Record
		if match(&rec) {
			return rec.Clone()
		}
	}
	tx.repo.mu.RLock()
	defer tx.repo.mu.RUnlock()
	return tx.repo.findLocked(tx.tenantID, tx.employeeID, match)
}

func (tx *memTx) FindOpen(ctx context.Context) (*domain.AttendanceRecord, error) {
	return tx.find(func(rec *domain.AttendanceRecord) bool { return rec.Open() }), nil
}

func (tx *memTx) FindByDate(ctx context.Context, localDate string) (*domain.AttendanceRecord, error) {
	return tx.find(func(rec *domain.AttendanceRecord) bool { return rec.LocalDate == localDate }), nil
}

func (tx *memTx) FindByIdempotency(ctx context.Context, key string) (*domain.AttendanceRecord, error) {
	tx.repo.mu.RLock()
	id, ok := tx.repo.keys[employeeKey(tx.tenantID, tx.employeeID)+"\x00"+key]
	var rec *domain.AttendanceRecord
	if ok {
		rec = tx.repo.records[id].Clone()
	}
	tx.repo.mu.RUnlock()
	return rec, nil
}

func (tx *memTx) Insert(ctx context.Context, change domain.Change) error {
	tx.staged = append(tx.staged, change)
	return nil
}

func (tx *memTx) Update(ctx context.Context, change domain.Change) error {
	tx.staged = append(tx.staged, change)
	return nil
}
