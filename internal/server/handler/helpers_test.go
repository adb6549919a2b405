package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

func TestWriteFailure(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cases := []struct {
		name       string
		err        error
		status     int
		code       string
		retryAfter bool
	}{
		{"not found", fmt.Errorf("get: %w", domain.ErrNotFound), http.StatusNotFound, "NOT_FOUND", false},
		{"not approved", domain.ErrNotApproved, http.StatusForbidden, "NOT_APPROVED", false},
		{"not started", domain.ErrNotStarted, http.StatusConflict, "NOT_STARTED", false},
		{"ended", domain.ErrEnded, http.StatusConflict, "ENDED", false},
		{"bid too low", &domain.BidTooLowError{Amount: 900, Minimum: 1000}, http.StatusConflict, "BID_TOO_LOW", false},
		{"storage", domain.Unavailable("append", errors.New("conn reset")), http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", true},
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED", false},
		{"unknown", errors.New("nil map"), http.StatusInternalServerError, "INTERNAL", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeFailure(rec, httptest.NewRequest("GET", "/x", nil), logger, tc.err)

			var body envelope
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if rec.Code != tc.status || body.Success || body.Error == nil || body.Error.Code != tc.code {
				t.Fatalf("got %d %s, want %d %s", rec.Code, rec.Body.String(), tc.status, tc.code)
			}
			if got := rec.Header().Get("Retry-After") != ""; got != tc.retryAfter {
				t.Fatalf("Retry-After present = %v, want %v", got, tc.retryAfter)
			}
		})
	}
}

func TestWriteFailureBidTooLowCarriesMinimum(t *testing.T) {
	rec := httptest.NewRecorder()
	writeFailure(rec, httptest.NewRequest("POST", "/bid", nil), slog.New(slog.NewTextHandler(io.Discard, nil)),
		fmt.Errorf("place bid: %w", &domain.BidTooLowError{Amount: 1500, Minimum: 1500}))

	var body envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error.MinimumExclusive == nil || *body.Error.MinimumExclusive != 1500 {
		t.Fatalf("minimumExclusive = %v", body.Error.MinimumExclusive)
	}
	if body.Error.Message != "bid too low: bid must exceed 1500 (got 1500)" {
		t.Fatalf("message = %q", body.Error.Message)
	}
}

func TestParseListOpts(t *testing.T) {
	for query, want := range map[string]domain.ListOpts{
		"":                     {Limit: 50},
		"?limit=10&offset=20":  {Limit: 10, Offset: 20},
		"?limit=5000":          {Limit: 200},
		"?limit=-1&offset=-3":  {Limit: 50},
		"?limit=abc&offset=xy": {Limit: 50},
	} {
		if got := parseListOpts(httptest.NewRequest("GET", "/api/auctions"+query, nil)); got != want {
			t.Errorf("parseListOpts(%q) = %+v, want %+v", query, got, want)
		}
	}
}
