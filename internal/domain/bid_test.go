package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func ledgerOf(base time.Time, amounts ...int64) []Bid {
	out := make([]Bid, len(amounts))
	for i, amt := range amounts {
		out[i] = Bid{ID: fmt.Sprintf("b%d", i), Amount: amt, BidTime: base.Add(time.Duration(i) * time.Second)}
	}
	return out
}

func TestNextBidTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)

	got := NextBidTime(now, nil)
	if want := now.Truncate(time.Microsecond); !got.Equal(want) {
		t.Fatalf("NextBidTime(no previous) = %v, want %v", got, want)
	}

	later := now.Add(time.Second)
	got = NextBidTime(now, &later)
	if want := later.Truncate(time.Microsecond).Add(time.Microsecond); !got.Equal(want) {
		t.Fatalf("NextBidTime(clock behind) = %v, want %v", got, want)
	}

	same := now.Truncate(time.Microsecond)
	got = NextBidTime(now, &same)
	if !got.After(same) {
		t.Fatalf("NextBidTime must be strictly after previous, got %v", got)
	}
}

func TestBidsAfter(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger := ledgerOf(base, 1100, 1200, 1300, 1400)

	got := BidsAfter(ledger, ledger[1].BidTime)
	if len(got) != 2 || got[0].Amount != 1300 || got[1].Amount != 1400 {
		t.Fatalf("BidsAfter() = %+v", got)
	}
	if got := BidsAfter(ledger, ledger[3].BidTime); len(got) != 0 {
		t.Fatalf("BidsAfter(last) = %+v, want empty", got)
	}
}

func TestLatestBids(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ledger := ledgerOf(base, 1, 2, 3, 4, 5, 6, 7)

	got := LatestBids(ledger, 5)
	if len(got) != 5 {
		t.Fatalf("LatestBids() returned %d bids, want 5", len(got))
	}
	for i, want := range []int64{7, 6, 5, 4, 3} {
		if got[i].Amount != want {
			t.Fatalf("LatestBids()[%d] = %d, want %d", i, got[i].Amount, want)
		}
	}
	if ledger[0].Amount != 1 {
		t.Fatal("LatestBids must not reorder its input")
	}
}

func TestVerifyLedger(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if i := VerifyLedger(1000, ledgerOf(base, 1100, 1200)); i != -1 {
		t.Fatalf("valid ledger flagged at %d", i)
	}
	if i := VerifyLedger(1000, ledgerOf(base, 1000)); i != 0 {
		t.Fatalf("first bid equal to base flagged at %d, want 0", i)
	}
	if i := VerifyLedger(1000, ledgerOf(base, 1100, 1100)); i != 1 {
		t.Fatalf("non-increasing amount flagged at %d, want 1", i)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{fmt.Errorf("load: %w", ErrNotFound), KindNotFound},
		{ErrNotApproved, KindNotApproved},
		{ErrNotStarted, KindNotStarted},
		{ErrEnded, KindEnded},
		{&BidTooLowError{Amount: 900, Minimum: 1000}, KindBidTooLow},
		{Unavailable("postgres: get auction", errors.New("dial tcp: refused")), KindStorageUnavailable},
		{ErrInvalidTransition, KindConflict},
		{errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
	if !KindStorageUnavailable.Transient() || KindBidTooLow.Transient() {
		t.Fatal("only storage/rate failures are transient")
	}
}

func TestBidTooLowMessageCarriesMinimum(t *testing.T) {
	err := error(&BidTooLowError{Amount: 900, Minimum: 1000})
	var tooLow *BidTooLowError
	if !errors.As(err, &tooLow) || tooLow.Minimum != 1000 {
		t.Fatalf("errors.As failed for %v", err)
	}
	if want := "bid too low: bid must exceed 1000 (got 900)"; err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
}
