package domain

import (
	"fmt"
	"strings"
	"time"
)

// ModerationDecision is a single terminal transition out of pending.
type ModerationDecision struct {
	Status     ModerationStatus
	ReviewerID string
	Reason     string
	DecidedAt  time.Time
}

// Approve builds the pending -> approved decision.
func Approve(reviewerID string, at time.Time) ModerationDecision {
	return ModerationDecision{Status: StatusApproved, ReviewerID: reviewerID, DecidedAt: at}
}

// Reject builds the pending -> rejected decision.
func Reject(reviewerID, reason string, at time.Time) ModerationDecision {
	return ModerationDecision{Status: StatusRejected, ReviewerID: reviewerID, Reason: strings.TrimSpace(reason), DecidedAt: at}
}

// Validate checks the decision itself, independent of the auction it targets.
func (d ModerationDecision) Validate() error {
	switch d.Status {
	case StatusApproved:
	case StatusRejected:
		if d.Reason == "" {
			return fmt.Errorf("%w: rejection reason is required", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: decision status must be approved or rejected, got %q", ErrInvalidInput, d.Status)
	}
	if d.ReviewerID == "" {
		return fmt.Errorf("%w: reviewer is required", ErrInvalidInput)
	}
	return nil
}

// Apply transitions a according to d. Only pending auctions accept a
// decision; approved and rejected are terminal.
func (a *Auction) Apply(d ModerationDecision) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if a.Status != StatusPending {
		return fmt.Errorf("auction %s is %s: %w", a.ID, a.Status, ErrInvalidTransition)
	}
	a.Status = d.Status
	a.ReviewerID = d.ReviewerID
	at := d.DecidedAt
	a.ReviewedAt = &at
	if d.Status == StatusRejected {
		a.RejectionReason = d.Reason
	}
	return nil
}
