package domain

import (
	"strconv"
	"time"
)

// DefaultRequiredDaily is the working time after which overtime starts accruing.
const DefaultRequiredDaily = 8 * time.Hour

// Policy configures the derived metrics.
type Policy struct {
	RequiredDaily time.Duration
}

// DefaultPolicy returns the 8h/day policy.
func DefaultPolicy() Policy {
	return Policy{RequiredDaily: DefaultRequiredDaily}
}

// DerivedMetrics are computed from a record on every read and never persisted.
type DerivedMetrics struct {
	TotalWorkSeconds int64      `json:"total_work_seconds"`
	BreakSeconds     int64      `json:"break_seconds"`
	OvertimeSeconds  int64      `json:"overtime_seconds"`
	TotalWorkHours   float64    `json:"total_work_hours"`
	BreakTimeMinutes float64    `json:"break_time_minutes"`
	OvertimeHours    float64    `json:"overtime_hours"`
	IsPunchedIn      bool       `json:"is_punched_in"`
	OnBreak          bool       `json:"on_break"`
	WorkStartTime    *time.Time `json:"work_start_time,omitempty"`
}

// Aggregate derives the metrics of rec as of now. Events stamped after now are treated as not
// having happened yet, so evaluating a record at a past instant reproduces what it showed then.
// The result depends only on its arguments.
func Aggregate(rec *AttendanceRecord, now time.Time, policy Policy) DerivedMetrics {
	var m DerivedMetrics
	if rec == nil || rec.PunchInAt.IsZero() || now.Before(rec.PunchInAt) {
		return m
	}

	start := rec.PunchInAt
	m.WorkStartTime = &start

	end := now
	if rec.PunchOutAt != nil && !rec.PunchOutAt.After(now) {
		end = *rec.PunchOutAt
	} else {
		m.IsPunchedIn = true
	}

	var breakSeconds int64
	for _, b := range rec.Breaks {
		if b.StartAt.After(end) {
			continue
		}
		bEnd := end
		if b.EndAt != nil && !b.EndAt.After(end) {
			bEnd = *b.EndAt
		} else if m.IsPunchedIn {
			m.OnBreak = true
		}
		if bEnd.After(b.StartAt) {
			breakSeconds += seconds(bEnd.Sub(b.StartAt))
		}
	}

	work := seconds(end.Sub(start)) - breakSeconds
	if work < 0 {
		work = 0
	}
	overtime := work - seconds(policy.RequiredDaily)
	if overtime < 0 {
		overtime = 0
	}

	m.TotalWorkSeconds = work
	m.BreakSeconds = breakSeconds
	m.OvertimeSeconds = overtime
	m.TotalWorkHours = float64(work) / 3600
	m.BreakTimeMinutes = float64(breakSeconds) / 60
	m.OvertimeHours = float64(overtime) / 3600
	return m
}

// FormatHours renders hours with one decimal for display.
func FormatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', 1, 64)
}

func seconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
