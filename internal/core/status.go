package core

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusCreated         Status = "created"
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusManagerDisabled Status = "disabled"
	StatusBlocked         Status = "blocked"
)

func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusCompleted, StatusManagerDisabled, StatusBlocked:
		return true
	}
	return false
}

// Override reports whether s was forced by a manager and must survive recomputation.
func (s Status) Override() bool {
	return s == StatusManagerDisabled || s == StatusBlocked
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrValidation, v)
	}
	return s, nil
}

// NaturalStatus derives a status from the window alone. Both bounds are inclusive.
func NaturalStatus(now, start, end time.Time) Status {
	switch {
	case now.Before(start):
		return StatusCreated
	case now.After(end):
		return StatusCompleted
	default:
		return StatusRunning
	}
}

func InWindow(now, start, end time.Time) bool {
	return NaturalStatus(now, start, end) == StatusRunning
}

// ComputeStatus returns current unchanged when it is a manager override,
// otherwise the natural status.
func ComputeStatus(now, start, end time.Time, current Status) Status {
	if current.Override() {
		return current
	}
	return NaturalStatus(now, start, end)
}

// ToggleStatus is the manager switch: Running becomes disabled, disabled
// falls back to the natural status. Anything else is left alone and
// changed is false.
func ToggleStatus(now, start, end time.Time, current Status) (next Status, changed bool) {
	switch current {
	case StatusRunning:
		return StatusManagerDisabled, true
	case StatusManagerDisabled:
		return NaturalStatus(now, start, end), true
	}
	return current, false
}

// ValidateWindow checks a campaign schedule. The start-in-the-past rule
// applies only when the campaign is being created.
func ValidateWindow(now, start, end time.Time, creating bool) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start_time and end_time are required", ErrValidation)
	}
	if !start.Before(end) {
		return fmt.Errorf("%w: end_time must be after start_time", ErrValidation)
	}
	if creating && start.Before(now) {
		return fmt.Errorf("%w: start_time must not be in the past", ErrValidation)
	}
	return nil
}
