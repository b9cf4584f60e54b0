// Package domain defines the attendance state machine, the derived work-hour metrics and the
// orchestration that ties them to storage.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// EventPrecision is the resolution events are stored at. Postgres timestamptz keeps microseconds,
// so instants are cut to it before any record sees them.
const EventPrecision = time.Microsecond

// Change is a single committed mutation: the resulting record, the event that produced it, and the
// metrics as of the event instant for downstream views.
type Change struct {
	Record  AttendanceRecord
	Event   Event
	Metrics DerivedMetrics
}

// Tx exposes the store inside the per-employee mutual-exclusion scope.
type Tx interface {
	FindOpen(ctx context.Context) (*AttendanceRecord, error)
	FindByDate(ctx context.Context, localDate string) (*AttendanceRecord, error)
	FindByIdempotency(ctx context.Context, key string) (*AttendanceRecord, error)
	Insert(ctx context.Context, change Change) error
	Update(ctx context.Context, change Change) error
}

// Repository captures persistence operations. Transact serialises every mutation of one employee;
// the remaining methods read the last committed state without taking that scope.
type Repository interface {
	Transact(ctx context.Context, tenantID, employeeID string, fn func(context.Context, Tx) error) error
	FindOpen(ctx context.Context, tenantID, employeeID string) (*AttendanceRecord, error)
	FindByDate(ctx context.Context, tenantID, employeeID, localDate string) (*AttendanceRecord, error)
	ListByEmployee(ctx context.Context, tenantID, employeeID string, cursor *Cursor, limit int) ([]AttendanceRecord, *Cursor, error)
}

// SnapshotStore holds the admin-facing copies compared by the reconciler.
type SnapshotStore interface {
	Get(ctx context.Context, tenantID, employeeID, localDate string) (*Snapshot, error)
	Put(ctx context.Context, snap Snapshot) error
}

// Cursor models the history pagination token.
type Cursor struct {
	LocalDate string
	ID        string
}

// ServiceOption configures optional Service collaborators.
type ServiceOption func(*Service)

// WithClock overrides the time source.
func WithClock(c clockwork.Clock) ServiceOption {
	return func(s *Service) { s.clock = c }
}

// WithPolicy overrides the required-hours policy.
func WithPolicy(p Policy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// WithReconciler overrides the reconciler thresholds.
func WithReconciler(r Reconciler) ServiceOption {
	return func(s *Service) { s.reconciler = r }
}

// WithSnapshots attaches the admin snapshot store.
func WithSnapshots(store SnapshotStore) ServiceOption {
	return func(s *Service) { s.snapshots = store }
}

// Service orchestrates attendance workflows. It is the single place every UI surface derives
// figures from.
type Service struct {
	repo       Repository
	snapshots  SnapshotStore
	clock      clockwork.Clock
	policy     Policy
	reconciler Reconciler
	newID      func() string
}

// NewService constructs a Service.
func NewService(repo Repository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:   repo,
		clock:  clockwork.NewRealClock(),
		policy: DefaultPolicy(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.reconciler.StalenessThreshold == 0 {
		s.reconciler = NewReconciler(DefaultStalenessThreshold, DefaultSyncTolerance, s.policy)
	}
	return s
}

// Policy returns the active required-hours policy.
func (s *Service) Policy() Policy { return s.policy }

// Now returns the service clock's current instant.
func (s *Service) Now() time.Time { return s.clock.Now() }

// PunchInput is the payload shared by punch-in and punch-out.
type PunchInput struct {
	TenantID        string
	EmployeeID      string
	TZOffsetMinutes int
	OccurredAt      time.Time
	IdempotencyKey  string
}

// BreakAction selects whether a break is started or ended.
type BreakAction string

const (
	BreakActionStart BreakAction = "start"
	BreakActionEnd   BreakAction = "end"
)

// BreakInput is the payload for break start/end.
type BreakInput struct {
	TenantID       string
	EmployeeID     string
	Type           string
	Action         string
	OccurredAt     time.Time
	IdempotencyKey string
}

// MutationResult is returned by every mutating operation.
type MutationResult struct {
	Record *AttendanceRecord
	Break  *BreakInterval
	Replay bool
}

// PunchIn opens today's session.
func (s *Service) PunchIn(ctx context.Context, in PunchInput) (*MutationResult, error) {
	if err := validateIdentity(in.TenantID, in.EmployeeID); err != nil {
		return nil, err
	}
	if err := ValidateOffset(in.TZOffsetMinutes); err != nil {
		return nil, err
	}
	at, err := s.eventTime(in.OccurredAt)
	if err != nil {
		return nil, err
	}

	var result MutationResult
	err = s.repo.Transact(ctx, in.TenantID, in.EmployeeID, func(ctx context.Context, tx Tx) error {
		if replayed, err := s.replay(ctx, tx, in.IdempotencyKey, &result); replayed || err != nil {
			return err
		}

		open, err := tx.FindOpen(ctx)
		if err != nil {
			return err
		}
		localDate, err := LocalDate(at, in.TZOffsetMinutes)
		if err != nil {
			return err
		}
		sameDay, err := tx.FindByDate(ctx, localDate)
		if err != nil {
			return err
		}

		rec, err := NewRecord(PunchInInput{
			ID:              s.newID(),
			TenantID:        in.TenantID,
			EmployeeID:      in.EmployeeID,
			TZOffsetMinutes: in.TZOffsetMinutes,
			At:              at,
		}, open, sameDay)
		if err != nil {
			return err
		}

		ev := Event{Kind: EventPunchIn, At: rec.PunchInAt, Sequence: rec.Sequence, IdempotencyKey: in.IdempotencyKey}
		if err := tx.Insert(ctx, s.change(rec, ev)); err != nil {
			return err
		}
		result.Record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// PunchOut closes the employee's open session.
func (s *Service) PunchOut(ctx context.Context, in PunchInput) (*MutationResult, error) {
	if err := validateIdentity(in.TenantID, in.EmployeeID); err != nil {
		return nil, err
	}
	at, err := s.eventTime(in.OccurredAt)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, in.TenantID, in.EmployeeID, in.IdempotencyKey, Event{Kind: EventPunchOut, At: at})
}

// Break starts or ends a break of the given type.
func (s *Service) Break(ctx context.Context, in BreakInput) (*MutationResult, error) {
	if err := validateIdentity(in.TenantID, in.EmployeeID); err != nil {
		return nil, err
	}
	breakType, err := ParseBreakType(in.Type)
	if err != nil {
		return nil, err
	}
	var kind EventKind
	switch BreakAction(in.Action) {
	case BreakActionStart:
		kind = EventBreakStart
	case BreakActionEnd:
		kind = EventBreakEnd
	default:
		return nil, &ValidationError{Field: "action", Message: "must be start or end"}
	}
	at, err := s.eventTime(in.OccurredAt)
	if err != nil {
		return nil, err
	}

	result, err := s.mutate(ctx, in.TenantID, in.EmployeeID, in.IdempotencyKey, Event{Kind: kind, BreakType: breakType, At: at})
	if err != nil {
		return nil, err
	}
	result.Break = latestBreak(result.Record, breakType)
	return result, nil
}

func (s *Service) mutate(ctx context.Context, tenantID, employeeID, key string, ev Event) (*MutationResult, error) {
	ev.IdempotencyKey = key

	var result MutationResult
	err := s.repo.Transact(ctx, tenantID, employeeID, func(ctx context.Context, tx Tx) error {
		if replayed, err := s.replay(ctx, tx, key, &result); replayed || err != nil {
			return err
		}

		open, err := tx.FindOpen(ctx)
		if err != nil {
			return err
		}
		if open == nil {
			return noSessionError(ev.Kind)
		}

		rec := open.Clone()
		if err := rec.Apply(ev); err != nil {
			return err
		}
		ev.Sequence = rec.Sequence
		if err := tx.Update(ctx, s.change(rec, ev)); err != nil {
			return err
		}
		result.Record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Service) replay(ctx context.Context, tx Tx, key string, result *MutationResult) (bool, error) {
	if key == "" {
		return false, nil
	}
	existing, err := tx.FindByIdempotency(ctx, key)
	if err != nil || existing == nil {
		return false, err
	}
	result.Record = existing
	result.Replay = true
	return true, nil
}

func (s *Service) change(rec *AttendanceRecord, ev Event) Change {
	return Change{Record: *rec, Event: ev, Metrics: Aggregate(rec, ev.At, s.policy)}
}

func (s *Service) eventTime(occurredAt time.Time) (time.Time, error) {
	now := s.clock.Now().UTC().Truncate(EventPrecision)
	if occurredAt.IsZero() {
		return now, nil
	}
	at := occurredAt.UTC().Truncate(EventPrecision)
	if at.After(now) {
		return time.Time{}, &ValidationError{Field: "occurred_at", Message: "timestamp is in the future"}
	}
	return at, nil
}

// AttendanceView is the live status shown on every employee-facing surface.
type AttendanceView struct {
	Record  *AttendanceRecord
	Metrics DerivedMetrics
	State   SessionState
}

// Attendance resolves the employee's current record: the open session if any, otherwise the
// record of today's local date. No record is a normal state and yields zero metrics.
func (s *Service) Attendance(ctx context.Context, tenantID, employeeID string, tzOffsetMinutes int) (*AttendanceView, error) {
	rec, err := s.current(ctx, tenantID, employeeID, tzOffsetMinutes)
	if err != nil {
		return nil, err
	}
	return &AttendanceView{
		Record:  rec,
		Metrics: s.live(rec),
		State:   rec.State(),
	}, nil
}

// Breaks lists the current record's breaks in chronological order.
func (s *Service) Breaks(ctx context.Context, tenantID, employeeID string, tzOffsetMinutes int) ([]BreakInterval, error) {
	rec, err := s.current(ctx, tenantID, employeeID, tzOffsetMinutes)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return []BreakInterval{}, nil
	}
	return rec.Breaks, nil
}

// WorkHours derives the metrics for a specific local date; an empty date means today.
func (s *Service) WorkHours(ctx context.Context, tenantID, employeeID, date string, tzOffsetMinutes int) (DerivedMetrics, error) {
	rec, _, err := s.byDate(ctx, tenantID, employeeID, date, tzOffsetMinutes)
	if err != nil {
		return DerivedMetrics{}, err
	}
	return s.live(rec), nil
}

// History lists an employee's records, newest first.
func (s *Service) History(ctx context.Context, tenantID, employeeID string, cursor *Cursor, limit int) ([]AttendanceRecord, *Cursor, error) {
	if err := validateIdentity(tenantID, employeeID); err != nil {
		return nil, nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 31
	}
	return s.repo.ListByEmployee(ctx, tenantID, employeeID, cursor, limit)
}

// SyncStatus compares the admin snapshot of a day with the live record.
func (s *Service) SyncStatus(ctx context.Context, tenantID, employeeID, date string, tzOffsetMinutes int) (SyncReport, error) {
	rec, localDate, err := s.byDate(ctx, tenantID, employeeID, date, tzOffsetMinutes)
	if err != nil {
		return SyncReport{}, err
	}
	var snap *Snapshot
	if s.snapshots != nil {
		if snap, err = s.snapshots.Get(ctx, tenantID, employeeID, localDate); err != nil {
			return SyncReport{}, err
		}
	}
	return s.reconciler.Compare(rec, snap, s.clock.Now()), nil
}

// RefreshSnapshot rewrites the admin snapshot of a day from the live record. It is the action
// callers take after a stale or conflicting verdict.
func (s *Service) RefreshSnapshot(ctx context.Context, tenantID, employeeID, date string, tzOffsetMinutes int) (*Snapshot, error) {
	if s.snapshots == nil {
		return nil, errors.New("snapshot store not configured")
	}
	rec, _, err := s.byDate(ctx, tenantID, employeeID, date, tzOffsetMinutes)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	now := s.clock.Now()
	snap := SnapshotFromMetrics(rec, Aggregate(rec, now, s.policy), now)
	if err := s.snapshots.Put(ctx, snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// live evaluates rec at the service clock. Session flags follow the stored record, so a clock that
// trails a stored event still reports an open session as punched in.
func (s *Service) live(rec *AttendanceRecord) DerivedMetrics {
	m := Aggregate(rec, s.clock.Now(), s.policy)
	if rec.Open() {
		m.IsPunchedIn = true
		m.OnBreak = rec.OpenBreak() >= 0
		if m.WorkStartTime == nil {
			start := rec.PunchInAt
			m.WorkStartTime = &start
		}
	}
	return m
}

func (s *Service) current(ctx context.Context, tenantID, employeeID string, tzOffsetMinutes int) (*AttendanceRecord, error) {
	if err := validateIdentity(tenantID, employeeID); err != nil {
		return nil, err
	}
	today, err := LocalDate(s.clock.Now(), tzOffsetMinutes)
	if err != nil {
		return nil, err
	}
	open, err := s.repo.FindOpen(ctx, tenantID, employeeID)
	if err != nil || open != nil {
		return open, err
	}
	return s.repo.FindByDate(ctx, tenantID, employeeID, today)
}

func (s *Service) byDate(ctx context.Context, tenantID, employeeID, date string, tzOffsetMinutes int) (*AttendanceRecord, string, error) {
	if err := validateIdentity(tenantID, employeeID); err != nil {
		return nil, "", err
	}
	var (
		localDate string
		err       error
	)
	if strings.TrimSpace(date) == "" {
		localDate, err = LocalDate(s.clock.Now(), tzOffsetMinutes)
	} else {
		localDate, err = ParseLocalDate(date)
	}
	if err != nil {
		return nil, "", err
	}
	rec, err := s.repo.FindByDate(ctx, tenantID, employeeID, localDate)
	return rec, localDate, err
}

func validateIdentity(tenantID, employeeID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return &ValidationError{Field: "tenant_id", Message: "is required"}
	}
	if strings.TrimSpace(employeeID) == "" {
		return &ValidationError{Field: "employee_id", Message: "is required"}
	}
	return nil
}

func latestBreak(rec *AttendanceRecord, t BreakType) *BreakInterval {
	if rec == nil {
		return nil
	}
	for i := len(rec.Breaks) - 1; i >= 0; i-- {
		if rec.Breaks[i].Type == t {
			b := rec.Breaks[i]
			return &b
		}
	}
	return nil
}
