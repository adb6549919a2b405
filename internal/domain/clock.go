package domain

import "time"

// Phase is where an auction sits relative to its bidding window.
type Phase int

const (
	PhaseUpcoming Phase = iota
	PhaseActive
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseUpcoming:
		return "upcoming"
	case PhaseActive:
		return "active"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// PhaseAt classifies now against the window [start, end]. Both bounds are
// inclusive for the active phase.
func PhaseAt(now, start, end time.Time) Phase {
	switch {
	case now.Before(start):
		return PhaseUpcoming
	case now.After(end):
		return PhaseEnded
	default:
		return PhaseActive
	}
}

// PhaseError maps a non-active phase to its taxonomy error.
func PhaseError(p Phase) error {
	switch p {
	case PhaseUpcoming:
		return ErrNotStarted
	case PhaseEnded:
		return ErrEnded
	default:
		return nil
	}
}

// Clock supplies the current time. Operations read it once and reuse the
// value for every check they make.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }
