package domain

import "time"

// Snapshot is an admin-facing copy of an employee's derived figures, maintained independently
// of the live record (projected from published events or refreshed on demand).
type Snapshot struct {
	TenantID         string    `json:"tenant_id"`
	EmployeeID       string    `json:"employee_id"`
	LocalDate        string    `json:"local_date"`
	RecordID         string    `json:"record_id"`
	Sequence         int       `json:"sequence"`
	IsPunchedIn      bool      `json:"is_punched_in"`
	OnBreak          bool      `json:"on_break"`
	TotalWorkSeconds int64     `json:"total_work_seconds"`
	BreakSeconds     int64     `json:"break_seconds"`
	OvertimeSeconds  int64     `json:"overtime_seconds"`
	CapturedAt       time.Time `json:"captured_at"`
}

// SnapshotFromMetrics captures the figures of rec as observed at capturedAt.
func SnapshotFromMetrics(rec *AttendanceRecord, m DerivedMetrics, capturedAt time.Time) Snapshot {
	return Snapshot{
		TenantID:         rec.TenantID,
		EmployeeID:       rec.EmployeeID,
		LocalDate:        rec.LocalDate,
		RecordID:         rec.ID,
		Sequence:         rec.Sequence,
		IsPunchedIn:      m.IsPunchedIn,
		OnBreak:          m.OnBreak,
		TotalWorkSeconds: m.TotalWorkSeconds,
		BreakSeconds:     m.BreakSeconds,
		OvertimeSeconds:  m.OvertimeSeconds,
		CapturedAt:       capturedAt.UTC(),
	}
}

// SyncVerdict is the outcome of comparing the live record with a snapshot.
type SyncVerdict string

const (
	SyncSynced   SyncVerdict = "synced"
	SyncStale    SyncVerdict = "stale"
	SyncConflict SyncVerdict = "conflict"
)

const (
	DefaultStalenessThreshold = 5 * time.Minute
	DefaultSyncTolerance      = 36 * time.Second
)

// SyncReport explains a verdict.
type SyncReport struct {
	Verdict     SyncVerdict    `json:"verdict"`
	Diverging   []string       `json:"diverging_fields,omitempty"`
	SnapshotAge time.Duration  `json:"-"`
	Live        DerivedMetrics `json:"live"`
	Snapshot    *Snapshot      `json:"snapshot,omitempty"`
}

// Reconciler compares two views of the same attendance data. It never writes.
type Reconciler struct {
	StalenessThreshold time.Duration
	Tolerance          time.Duration
	Policy             Policy
}

// NewReconciler applies defaults for zero values.
func NewReconciler(staleness, tolerance time.Duration, policy Policy) Reconciler {
	if staleness <= 0 {
		staleness = DefaultStalenessThreshold
	}
	if tolerance < 0 {
		tolerance = DefaultSyncTolerance
	}
	if policy.RequiredDaily <= 0 {
		policy = DefaultPolicy()
	}
	return Reconciler{StalenessThreshold: staleness, Tolerance: tolerance, Policy: policy}
}

// Compare evaluates the live record as of the snapshot's capture instant so that an old but
// faithful snapshot reads as stale rather than conflicting.
func (c Reconciler) Compare(live *AttendanceRecord, snap *Snapshot, now time.Time) SyncReport {
	report := SyncReport{Live: Aggregate(live, now, c.Policy), Snapshot: snap}

	if snap == nil {
		if live == nil {
			report.Verdict = SyncSynced
		} else {
			report.Verdict = SyncStale
		}
		return report
	}
	report.SnapshotAge = now.Sub(snap.CapturedAt)

	if live == nil {
		report.Verdict = SyncConflict
		report.Diverging = []string{"record_id"}
		return report
	}

	asOf := Aggregate(live, snap.CapturedAt, c.Policy)
	tol := int64(c.Tolerance / time.Second)
	if snap.RecordID != "" && snap.RecordID != live.ID {
		report.Diverging = append(report.Diverging, "record_id")
	}
	if snap.Sequence > live.Sequence {
		report.Diverging = append(report.Diverging, "sequence")
	}
	if snap.IsPunchedIn != asOf.IsPunchedIn {
		report.Diverging = append(report.Diverging, "is_punched_in")
	}
	if snap.OnBreak != asOf.OnBreak {
		report.Diverging = append(report.Diverging, "on_break")
	}
	if abs(snap.TotalWorkSeconds-asOf.TotalWorkSeconds) > tol {
		report.Diverging = append(report.Diverging, "total_work_seconds")
	}
	if abs(snap.BreakSeconds-asOf.BreakSeconds) > tol {
		report.Diverging = append(report.Diverging, "break_seconds")
	}
	if abs(snap.OvertimeSeconds-asOf.OvertimeSeconds) > tol {
		report.Diverging = append(report.Diverging, "overtime_seconds")
	}

	switch {
	case len(report.Diverging) > 0:
		report.Verdict = SyncConflict
	case report.SnapshotAge > c.StalenessThreshold:
		report.Verdict = SyncStale
	default:
		report.Verdict = SyncSynced
	}
	return report
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
