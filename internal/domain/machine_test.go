package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, time.March, 2, 2, 0, 0, 0, time.UTC)

func openRecord(t *testing.T) *AttendanceRecord {
	t.Helper()
	rec, err := NewRecord(PunchInInput{ID: "rec-1", TenantID: "tenant-a", EmployeeID: "emp-1", TZOffsetMinutes: 420, At: t0}, nil, nil)
	require.NoError(t, err)
	return rec
}

func TestNewRecordResolvesLocalDayFromOffset(t *testing.T) {
	late := time.Date(2026, time.March, 1, 23, 30, 0, 0, time.UTC)

	rec, err := NewRecord(PunchInInput{ID: "r", TenantID: "t", EmployeeID: "e", TZOffsetMinutes: 0, At: late}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "2026-03-01", rec.LocalDate)

	rec, err = NewRecord(PunchInInput{ID: "r", TenantID: "t", EmployeeID: "e", TZOffsetMinutes: 60, At: late}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "2026-03-02", rec.LocalDate)
	require.Equal(t, StateWorking, rec.State())
	require.Equal(t, 1, rec.Sequence)
	require.NotNil(t, rec.Breaks)
}

func TestNewRecordRejections(t *testing.T) {
	open := openRecord(t)

	_, err := NewRecord(PunchInInput{At: t0.Add(24 * time.Hour)}, open, nil)
	require.ErrorIs(t, err, ErrAlreadyOpenSession)
	require.ErrorIs(t, err, ErrStateConflict)

	closed := open.Clone()
	require.NoError(t, closed.Apply(Event{Kind: EventPunchOut, At: t0.Add(time.Hour)}))
	_, err = NewRecord(PunchInInput{At: t0.Add(2 * time.Hour), TZOffsetMinutes: 420}, nil, closed)
	require.ErrorIs(t, err, ErrDuplicateForDay)

	_, err = NewRecord(PunchInInput{}, nil, nil)
	require.ErrorIs(t, err, ErrValidation)

	_, err = NewRecord(PunchInInput{At: t0, TZOffsetMinutes: 841}, nil, nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestApplyWalksTheStateMachine(t *testing.T) {
	rec := openRecord(t)

	require.NoError(t, rec.Apply(Event{Kind: EventBreakStart, BreakType: BreakLunch, At: t0.Add(3 * time.Hour)}))
	require.Equal(t, StateOnBreak, rec.State())
	require.Equal(t, 2, rec.Sequence)

	require.ErrorIs(t, rec.Apply(Event{Kind: EventBreakStart, BreakType: BreakShortFirst, At: t0.Add(3 * time.Hour)}), ErrBreakAlreadyOpen)
	require.ErrorIs(t, rec.Apply(Event{Kind: EventPunchOut, At: t0.Add(4 * time.Hour)}), ErrOpenBreakPending)
	require.ErrorIs(t, rec.Apply(Event{Kind: EventBreakEnd, BreakType: BreakShortSecond, At: t0.Add(4 * time.Hour)}), ErrNoMatchingOpenBreak)
	require.Equal(t, 2, rec.Sequence, "rejected events leave the record untouched")

	require.NoError(t, rec.Apply(Event{Kind: EventBreakEnd, BreakType: BreakLunch, At: t0.Add(3*time.Hour + 45*time.Minute)}))
	require.Equal(t, StateWorking, rec.State())

	require.NoError(t, rec.Apply(Event{Kind: EventBreakStart, BreakType: BreakLunch, At: t0.Add(5 * time.Hour)}), "a break type may repeat")
	require.NoError(t, rec.Apply(Event{Kind: EventBreakEnd, BreakType: BreakLunch, At: t0.Add(5*time.Hour + 5*time.Minute)}))

	require.NoError(t, rec.Apply(Event{Kind: EventPunchOut, At: t0.Add(9 * time.Hour)}))
	require.Equal(t, StateClosed, rec.State())
	require.Equal(t, 6, rec.Sequence)

	require.ErrorIs(t, rec.Apply(Event{Kind: EventBreakStart, BreakType: BreakShortFirst, At: t0.Add(10 * time.Hour)}), ErrNoOpenSession)
	require.ErrorIs(t, rec.Apply(Event{Kind: EventBreakEnd, BreakType: BreakShortFirst, At: t0.Add(10 * time.Hour)}), ErrNoMatchingOpenBreak)
}

func TestApplyRejectsOutOfOrderAndInvalidEvents(t *testing.T) {
	rec := openRecord(t)
	require.NoError(t, rec.Apply(Event{Kind: EventBreakStart, BreakType: BreakShortFirst, At: t0.Add(time.Hour)}))

	err := rec.Apply(Event{Kind: EventBreakEnd, BreakType: BreakShortFirst, At: t0.Add(30 * time.Minute)})
	require.ErrorIs(t, err, ErrOutOfOrderEvent)
	require.Equal(t, "out_of_order_event", ConflictReason(err))

	require.ErrorIs(t, rec.Apply(Event{Kind: EventBreakEnd, BreakType: "nap", At: t0.Add(2 * time.Hour)}), ErrValidation)
	require.ErrorIs(t, rec.Apply(Event{Kind: "teleport", At: t0.Add(2 * time.Hour)}), ErrValidation)
	require.ErrorIs(t, rec.Apply(Event{Kind: EventBreakEnd, BreakType: BreakShortFirst}), ErrValidation)

	require.NoError(t, rec.Apply(Event{Kind: EventBreakEnd, BreakType: BreakShortFirst, At: t0.Add(time.Hour)}), "equal instants are in order")
}

func TestCloneIsDeep(t *testing.T) {
	rec := openRecord(t)
	require.NoError(t, rec.Apply(Event{Kind: EventBreakStart, BreakType: BreakShortFirst, At: t0.Add(time.Hour)}))

	cp := rec.Clone()
	require.NoError(t, cp.Apply(Event{Kind: EventBreakEnd, BreakType: BreakShortFirst, At: t0.Add(2 * time.Hour)}))
	require.True(t, rec.Breaks[0].Open())
	require.False(t, cp.Breaks[0].Open())
}

func TestConflictReasonOnForeignErrors(t *testing.T) {
	require.Empty(t, ConflictReason(errors.New("boom")))
	require.Empty(t, ConflictReason(nil))
}
