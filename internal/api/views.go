package api

import (
	"time"

	"example.com/attendance/internal/domain"
)

// PunchRequest is the payload for punch-in and punch-out. The offset fixes the record's local day
// and is required on punch-in; punch-out ignores it.
type PunchRequest struct {
	TZOffsetMinutes *int      `json:"tz_offset_minutes"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// BreakRequest is the payload for POST /v1/attendance/breaks.
type BreakRequest struct {
	Type       string    `json:"type"`
	Action     string    `json:"action"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RefreshRequest is the payload for the admin snapshot refresh.
type RefreshRequest struct {
	EmployeeID      string `json:"employee_id"`
	Date            string `json:"date"`
	TZOffsetMinutes int    `json:"tz_offset_minutes"`
}

// BreakView renders one break interval in the employee's offset.
type BreakView struct {
	Type            string     `json:"type"`
	StartAt         time.Time  `json:"start_at"`
	EndAt           *time.Time `json:"end_at,omitempty"`
	Open            bool       `json:"open"`
	DurationSeconds int64      `json:"duration_seconds"`
}

// RecordView renders an attendance record in the employee's offset.
type RecordView struct {
	ID              string      `json:"id"`
	EmployeeID      string      `json:"employee_id"`
	LocalDate       string      `json:"local_date"`
	TZOffsetMinutes int         `json:"tz_offset_minutes"`
	PunchInAt       time.Time   `json:"punch_in_at"`
	PunchOutAt      *time.Time  `json:"punch_out_at,omitempty"`
	Breaks          []BreakView `json:"breaks"`
	Sequence        int         `json:"sequence"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// MetricsView carries the derived figures. Hours are exact; the display fields are rounded to
// one decimal.
type MetricsView struct {
	TotalWorkSeconds    int64      `json:"total_work_seconds"`
	BreakSeconds        int64      `json:"break_seconds"`
	OvertimeSeconds     int64      `json:"overtime_seconds"`
	TotalWorkHours      float64    `json:"total_work_hours"`
	BreakTimeMinutes    float64    `json:"break_time_minutes"`
	OvertimeHours       float64    `json:"overtime_hours"`
	TotalWorkHoursLabel string     `json:"total_work_hours_display"`
	OvertimeHoursLabel  string     `json:"overtime_hours_display"`
	IsPunchedIn         bool       `json:"is_punched_in"`
	OnBreak             bool       `json:"on_break"`
	WorkStartTime       *time.Time `json:"work_start_time,omitempty"`
}

// MutationResponse is returned by punch and break mutations.
type MutationResponse struct {
	Record  RecordView  `json:"record"`
	Break   *BreakView  `json:"break,omitempty"`
	State   string      `json:"state"`
	Metrics MetricsView `json:"metrics"`
	Replay  bool        `json:"idempotent_replay"`
}

// AttendanceResponse describes the current session of an employee.
type AttendanceResponse struct {
	EmployeeID string      `json:"employee_id"`
	State      string      `json:"state"`
	Record     *RecordView `json:"record,omitempty"`
	Metrics    MetricsView `json:"metrics"`
}

// BreaksResponse lists the breaks of the current session.
type BreaksResponse struct {
	EmployeeID string      `json:"employee_id"`
	Items      []BreakView `json:"items"`
}

// WorkHoursResponse carries the figures of one local day.
type WorkHoursResponse struct {
	EmployeeID string      `json:"employee_id"`
	LocalDate  string      `json:"local_date"`
	Metrics    MetricsView `json:"metrics"`
}

// DayView pairs a past record with its figures.
type DayView struct {
	Record  RecordView  `json:"record"`
	Metrics MetricsView `json:"metrics"`
}

// HistoryResponse packages paginated history.
type HistoryResponse struct {
	Items      []DayView `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// SyncStatusResponse reports the reconciler verdict for one employee day.
type SyncStatusResponse struct {
	EmployeeID         string           `json:"employee_id"`
	Verdict            string           `json:"verdict"`
	DivergingFields    []string         `json:"diverging_fields"`
	SnapshotAgeSeconds int64            `json:"snapshot_age_seconds"`
	Live               MetricsView      `json:"live"`
	Snapshot           *domain.Snapshot `json:"snapshot,omitempty"`
}

func zoneFor(rec *domain.AttendanceRecord, fallbackOffset int) *time.Location {
	if rec != nil {
		return domain.Zone(rec.TZOffsetMinutes)
	}
	return domain.Zone(fallbackOffset)
}

func localPtr(t *time.Time, zone *time.Location) *time.Time {
	if t == nil {
		return nil
	}
	v := t.In(zone)
	return &v
}

func toBreakView(b domain.BreakInterval, zone *time.Location, now time.Time) BreakView {
	end := now
	if b.EndAt != nil {
		end = *b.EndAt
	}
	dur := int64(end.Sub(b.StartAt) / time.Second)
	if dur < 0 {
		dur = 0
	}
	return BreakView{
		Type:            string(b.Type),
		StartAt:         b.StartAt.In(zone),
		EndAt:           localPtr(b.EndAt, zone),
		Open:            b.Open(),
		DurationSeconds: dur,
	}
}

func toRecordView(rec domain.AttendanceRecord, now time.Time) RecordView {
	zone := domain.Zone(rec.TZOffsetMinutes)
	view := RecordView{
		ID:              rec.ID,
		EmployeeID:      rec.EmployeeID,
		LocalDate:       rec.LocalDate,
		TZOffsetMinutes: rec.TZOffsetMinutes,
		PunchInAt:       rec.PunchInAt.In(zone),
		PunchOutAt:      localPtr(rec.PunchOutAt, zone),
		Breaks:          make([]BreakView, 0, len(rec.Breaks)),
		Sequence:        rec.Sequence,
		UpdatedAt:       rec.UpdatedAt.In(zone),
	}
	for _, b := range rec.Breaks {
		view.Breaks = append(view.Breaks, toBreakView(b, zone, now))
	}
	return view
}

func toMetricsView(m domain.DerivedMetrics, zone *time.Location) MetricsView {
	return MetricsView{
		TotalWorkSeconds:    m.TotalWorkSeconds,
		BreakSeconds:        m.BreakSeconds,
		OvertimeSeconds:     m.OvertimeSeconds,
		TotalWorkHours:      m.TotalWorkHours,
		BreakTimeMinutes:    m.BreakTimeMinutes,
		OvertimeHours:       m.OvertimeHours,
		TotalWorkHoursLabel: domain.FormatHours(m.TotalWorkHours),
		OvertimeHoursLabel:  domain.FormatHours(m.OvertimeHours),
		IsPunchedIn:         m.IsPunchedIn,
		OnBreak:             m.OnBreak,
		WorkStartTime:       localPtr(m.WorkStartTime, zone),
	}
}
