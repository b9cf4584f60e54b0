package domain

import "time"

// BreakType identifies one of the break slots available during a work day.
type BreakType string

const (
	BreakShortFirst  BreakType = "break1"
	BreakShortSecond BreakType = "break2"
	BreakLunch       BreakType = "lunch"
)

// Valid reports whether t is a known break type.
func (t BreakType) Valid() bool {
	switch t {
	case BreakShortFirst, BreakShortSecond, BreakLunch:
		return true
	}
	return false
}

// ParseBreakType validates raw input from the transport layer.
func ParseBreakType(raw string) (BreakType, error) {
	t := BreakType(raw)
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Message: "unknown break type " + raw}
	}
	return t, nil
}

// BreakInterval is a single break inside an attendance session. An absent EndAt means the break is open.
type BreakInterval struct {
	Type    BreakType  `json:"type"`
	StartAt time.Time  `json:"start_at"`
	EndAt   *time.Time `json:"end_at,omitempty"`
}

// Open reports whether the break has not been ended yet.
func (b BreakInterval) Open() bool { return b.EndAt == nil }

// AttendanceRecord is the raw, append-only attendance state of one employee for one local day.
// Derived figures are never stored on it.
type AttendanceRecord struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	EmployeeID      string          `json:"employee_id"`
	LocalDate       string          `json:"local_date"`
	TZOffsetMinutes int             `json:"tz_offset_minutes"`
	PunchInAt       time.Time       `json:"punch_in_at"`
	PunchOutAt      *time.Time      `json:"punch_out_at,omitempty"`
	Breaks          []BreakInterval `json:"breaks"`
	Sequence        int             `json:"sequence"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Open reports whether the session is still running.
func (r *AttendanceRecord) Open() bool {
	return r != nil && r.PunchOutAt == nil
}

// OpenBreak returns the index of the currently open break, or -1.
func (r *AttendanceRecord) OpenBreak() int {
	if r == nil {
		return -1
	}
	for i := range r.Breaks {
		if r.Breaks[i].Open() {
			return i
		}
	}
	return -1
}

// LastEventAt returns the latest instant recorded on the record.
func (r *AttendanceRecord) LastEventAt() time.Time {
	last := r.PunchInAt
	for _, b := range r.Breaks {
		if b.StartAt.After(last) {
			last = b.StartAt
		}
		if b.EndAt != nil && b.EndAt.After(last) {
			last = *b.EndAt
		}
	}
	if r.PunchOutAt != nil && r.PunchOutAt.After(last) {
		last = *r.PunchOutAt
	}
	return last
}

// Clone returns a deep copy so callers can mutate without touching committed state.
func (r *AttendanceRecord) Clone() *AttendanceRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.PunchOutAt != nil {
		t := *r.PunchOutAt
		out.PunchOutAt = &t
	}
	out.Breaks = make([]BreakInterval, len(r.Breaks))
	for i, b := range r.Breaks {
		out.Breaks[i] = b
		if b.EndAt != nil {
			t := *b.EndAt
			out.Breaks[i].EndAt = &t
		}
	}
	return &out
}

// EventKind enumerates the mutations accepted by the state machine.
type EventKind string

const (
	EventPunchIn    EventKind = "punch_in"
	EventPunchOut   EventKind = "punch_out"
	EventBreakStart EventKind = "break_start"
	EventBreakEnd   EventKind = "break_end"
)

// Event is a single validated mutation applied to a record.
type Event struct {
	Kind           EventKind
	BreakType      BreakType
	At             time.Time
	Sequence       int
	IdempotencyKey string
}
