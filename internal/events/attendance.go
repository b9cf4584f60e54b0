// Package events defines the attendance event payloads published through the outbox.
package events

import "time"

const (
	// TypeEventRecorded is emitted for every committed punch or break event.
	TypeEventRecorded = "attendance.event_recorded"
	// TypeSessionClosed is emitted once per record when the employee punches out.
	TypeSessionClosed = "attendance.session_closed"
)

// AttendanceEventRecorded carries the raw event plus the figures derived as of the event instant,
// which downstream admin views project into their own snapshot.
type AttendanceEventRecorded struct {
	RecordID         string    `json:"record_id"`
	TenantID         string    `json:"tenant_id"`
	EmployeeID       string    `json:"employee_id"`
	LocalDate        string    `json:"local_date"`
	Kind             string    `json:"kind"`
	BreakType        string    `json:"break_type,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
	Sequence         int       `json:"sequence"`
	IsPunchedIn      bool      `json:"is_punched_in"`
	OnBreak          bool      `json:"on_break"`
	TotalWorkSeconds int64     `json:"total_work_seconds"`
	BreakSeconds     int64     `json:"break_seconds"`
	OvertimeSeconds  int64     `json:"overtime_seconds"`
}

// AttendanceSessionClosed summarises a finished day for HR reporting.
type AttendanceSessionClosed struct {
	RecordID         string    `json:"record_id"`
	TenantID         string    `json:"tenant_id"`
	EmployeeID       string    `json:"employee_id"`
	LocalDate        string    `json:"local_date"`
	PunchInAt        time.Time `json:"punch_in_at"`
	PunchOutAt       time.Time `json:"punch_out_at"`
	Sequence         int       `json:"sequence"`
	TotalWorkSeconds int64     `json:"total_work_seconds"`
	BreakSeconds     int64     `json:"break_seconds"`
	OvertimeSeconds  int64     `json:"overtime_seconds"`
}
