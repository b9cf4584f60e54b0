package domain

import (
	"strconv"
	"time"
)

const (
	localDateLayout = "2006-01-02"

	minOffsetMinutes = -14 * 60
	maxOffsetMinutes = 14 * 60
)

// ValidateOffset checks a client time-zone offset expressed in minutes east of UTC.
func ValidateOffset(offsetMinutes int) error {
	if offsetMinutes < minOffsetMinutes || offsetMinutes > maxOffsetMinutes {
		return &ValidationError{Field: "tz_offset_minutes", Message: "must be between -840 and 840, got " + strconv.Itoa(offsetMinutes)}
	}
	return nil
}

// Zone returns the fixed zone for an offset in minutes east of UTC.
func Zone(offsetMinutes int) *time.Location {
	return time.FixedZone("", offsetMinutes*60)
}

// LocalDate resolves the calendar day of at in the client's zone.
func LocalDate(at time.Time, offsetMinutes int) (string, error) {
	if err := ValidateOffset(offsetMinutes); err != nil {
		return "", err
	}
	return at.In(Zone(offsetMinutes)).Format(localDateLayout), nil
}

// ParseLocalDate validates a YYYY-MM-DD date string.
func ParseLocalDate(raw string) (string, error) {
	t, err := time.Parse(localDateLayout, raw)
	if err != nil {
		return "", &ValidationError{Field: "date", Message: "expected YYYY-MM-DD"}
	}
	return t.Format(localDateLayout), nil
}
