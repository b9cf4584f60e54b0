package domain

import "errors"

var (
	// ErrValidation classifies malformed input rejected before the store is touched.
	ErrValidation = errors.New("validation failed")
	// ErrStateConflict classifies events that are valid input but not allowed in the current state.
	ErrStateConflict = errors.New("state conflict")
	// ErrRecordNotFound is returned by lookups that must resolve a record.
	ErrRecordNotFound = errors.New("attendance record not found")
)

// ValidationError describes a malformed field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError is a state-machine rejection carrying a stable reason code.
type ConflictError struct {
	Reason  string
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// Is lets errors.Is(err, ErrStateConflict) match every ConflictError.
func (e *ConflictError) Is(target error) bool { return target == ErrStateConflict }

var (
	ErrAlreadyOpenSession  = &ConflictError{Reason: "already_open_session", Message: "an attendance session is already open"}
	ErrDuplicateForDay     = &ConflictError{Reason: "duplicate_for_day", Message: "an attendance record already exists for this day"}
	ErrNoOpenSession       = &ConflictError{Reason: "no_open_session", Message: "no open attendance session"}
	ErrOpenBreakPending    = &ConflictError{Reason: "open_break_pending", Message: "end the current break before punching out"}
	ErrBreakAlreadyOpen    = &ConflictError{Reason: "break_already_open", Message: "another break is already open"}
	ErrNoMatchingOpenBreak = &ConflictError{Reason: "no_matching_open_break", Message: "no open break of that type"}
	ErrOutOfOrderEvent     = &ConflictError{Reason: "out_of_order_event", Message: "event is earlier than the last recorded event"}
)

// ConflictReason extracts the reason code of a state conflict, or "" when err is not one.
func ConflictReason(err error) string {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ""
}
