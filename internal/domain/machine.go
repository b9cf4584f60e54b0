package domain

import "time"

// SessionState is the position of a record in the attendance state machine.
type SessionState string

const (
	StateNotStarted SessionState = "not_started"
	StateWorking    SessionState = "working"
	StateOnBreak    SessionState = "on_break"
	StateClosed     SessionState = "closed"
)

// State derives the machine state from the raw record.
func (r *AttendanceRecord) State() SessionState {
	switch {
	case r == nil || r.PunchInAt.IsZero():
		return StateNotStarted
	case r.PunchOutAt != nil:
		return StateClosed
	case r.OpenBreak() >= 0:
		return StateOnBreak
	default:
		return StateWorking
	}
}

// PunchInInput carries everything needed to open a new session.
type PunchInInput struct {
	ID              string
	TenantID        string
	EmployeeID      string
	TZOffsetMinutes int
	At              time.Time
}

// NewRecord validates a punch-in against the employee's open record and the record already
// stored for the resolved local day, and returns the new record in the working state.
func NewRecord(in PunchInInput, open, sameDay *AttendanceRecord) (*AttendanceRecord, error) {
	if in.At.IsZero() {
		return nil, &ValidationError{Field: "occurred_at", Message: "timestamp is required"}
	}
	localDate, err := LocalDate(in.At, in.TZOffsetMinutes)
	if err != nil {
		return nil, err
	}
	if open.Open() {
		return nil, ErrAlreadyOpenSession
	}
	if sameDay != nil {
		return nil, ErrDuplicateForDay
	}

	at := in.At.UTC()
	return &AttendanceRecord{
		ID:              in.ID,
		TenantID:        in.TenantID,
		EmployeeID:      in.EmployeeID,
		LocalDate:       localDate,
		TZOffsetMinutes: in.TZOffsetMinutes,
		PunchInAt:       at,
		Breaks:          []BreakInterval{},
		Sequence:        1,
		CreatedAt:       at,
		UpdatedAt:       at,
	}, nil
}

// Apply validates ev against the record and applies it. On error the record is left untouched.
func (r *AttendanceRecord) Apply(ev Event) error {
	if ev.At.IsZero() {
		return &ValidationError{Field: "occurred_at", Message: "timestamp is required"}
	}
	if !r.Open() {
		return noSessionError(ev.Kind)
	}
	if ev.At.Before(r.LastEventAt()) {
		return ErrOutOfOrderEvent
	}

	at := ev.At.UTC()
	switch ev.Kind {
	case EventPunchOut:
		if r.OpenBreak() >= 0 {
			return ErrOpenBreakPending
		}
		r.PunchOutAt = &at
	case EventBreakStart:
		if !ev.BreakType.Valid() {
			return &ValidationError{Field: "type", Message: "unknown break type " + string(ev.BreakType)}
		}
		if r.OpenBreak() >= 0 {
			return ErrBreakAlreadyOpen
		}
		r.Breaks = append(r.Breaks, BreakInterval{Type: ev.BreakType, StartAt: at})
	case EventBreakEnd:
		if !ev.BreakType.Valid() {
			return &ValidationError{Field: "type", Message: "unknown break type " + string(ev.BreakType)}
		}
		idx := r.OpenBreak()
		if idx < 0 || r.Breaks[idx].Type != ev.BreakType {
			return ErrNoMatchingOpenBreak
		}
		r.Breaks[idx].EndAt = &at
	default:
		return &ValidationError{Field: "kind", Message: "unsupported event " + string(ev.Kind)}
	}

	r.Sequence++
	r.UpdatedAt = at
	return nil
}

// noSessionError is the rejection for ev without an open record. A break end has no open break
// to match, which is the error it reports in every other case too.
func noSessionError(kind EventKind) error {
	if kind == EventBreakEnd {
		return ErrNoMatchingOpenBreak
	}
	return ErrNoOpenSession
}
