package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Campaign times are fixed to Moscow time (MSK, UTC+3).

const mskOffsetHours = 3

// MSKMinutes returns minutes since midnight in MSK for the given instant
func MSKMinutes(t time.Time) int {
	u := t.UTC()
	mskHours := (u.Hour() + mskOffsetHours) % 24
	return mskHours*60 + u.Minute()
}

// ParseHHMM parses an "HH:mm" string. Missing minutes default to 0.
func ParseHHMM(s string) (hours, minutes int, err error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	m := 0
	if len(parts) > 1 {
		m, err = strconv.Atoi(parts[1])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid time %q: %w", s, err)
		}
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("time %q out of range", s)
	}
	return h, m, nil
}

// IsWithinWorkingHours reports whether t falls inside [start, end) in MSK.
// start > end means the window wraps past midnight.
func IsWithinWorkingHours(start, end string, t time.Time) bool {
	nowMins := MSKMinutes(t)
	sh, sm, err := ParseHHMM(start)
	if err != nil {
		sh, sm = 0, 0
	}
	eh, em, err := ParseHHMM(end)
	if err != nil {
		eh, em = 0, 0
	}
	startMins := sh*60 + sm
	endMins := eh*60 + em
	if startMins <= endMins {
		return nowMins >= startMins && nowMins < endMins
	}
	return nowMins >= startMins || nowMins < endMins
}

// NextMSKOccurrence projects an "HH:mm" MSK wall-clock time onto the next
// occurrence at or after now. If today's occurrence has already passed, it
// returns now rather than waiting a day.
func NextMSKOccurrence(hhmm string, now time.Time) time.Time {
	h, m, err := ParseHHMM(hhmm)
	if err != nil {
		return now
	}
	u := now.UTC()
	utcHour := (h - mskOffsetHours + 24) % 24
	candidate := time.Date(u.Year(), u.Month(), u.Day(), utcHour, m, 0, 0, time.UTC)
	if !candidate.After(now) {
		return now
	}
	return candidate
}
