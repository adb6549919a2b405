package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/bookauction/internal/domain"
	"github.com/alanyoungcy/bookauction/internal/server/middleware"
)

// envelope is the body of every API response.
type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	MinimumExclusive *int64 `json:"minimumExclusive,omitempty"`
}

var kindStatus = map[domain.ErrorKind]int{
	domain.KindNotFound:           http.StatusNotFound,
	domain.KindNotApproved:        http.StatusForbidden,
	domain.KindNotStarted:         http.StatusConflict,
	domain.KindEnded:              http.StatusConflict,
	domain.KindBidTooLow:          http.StatusConflict,
	domain.KindStorageUnavailable: http.StatusServiceUnavailable,
	domain.KindInvalidInput:       http.StatusBadRequest,
	domain.KindUnauthorized:       http.StatusUnauthorized,
	domain.KindForbidden:          http.StatusForbidden,
	domain.KindConflict:           http.StatusConflict,
	domain.KindRateLimited:        http.StatusTooManyRequests,
}

var kindMessage = map[domain.ErrorKind]string{
	domain.KindNotFound:           "auction not found",
	domain.KindNotApproved:        "auction not available",
	domain.KindNotStarted:         "auction has not started",
	domain.KindEnded:              "auction has ended",
	domain.KindStorageUnavailable: "storage unavailable, retry later",
	domain.KindUnauthorized:       "authentication required",
	domain.KindForbidden:          "not allowed",
	domain.KindConflict:           "conflicting update",
	domain.KindRateLimited:        "too many bids, slow down",
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"success":false,"error":{"code":"INTERNAL","message":"internal server error"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeFailure maps err to a status code and an error code. Only failures
// the caller cannot act on are logged at error level.
func writeFailure(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := domain.KindOf(err)
	body := &errorBody{Code: kind.String(), Message: kindMessage[kind]}

	var tooLow *domain.BidTooLowError
	switch {
	case errors.As(err, &tooLow):
		body.Message = tooLow.Error()
		minimum := tooLow.Minimum
		body.MinimumExclusive = &minimum
	case kind == domain.KindInvalidInput:
		body.Message = err.Error()
	case kind == domain.KindConflict && errors.Is(err, domain.ErrInvalidTransition):
		body.Message = "moderation decision already made"
	}

	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
		body.Message = "internal server error"
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("path", r.URL.Path),
			slog.String("code", body.Code),
			slog.String("error", err.Error()),
		)
	}
	if kind == domain.KindStorageUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, envelope{Error: body})
}

func invalidInput(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidInput, msg)
}

// parseListOpts reads limit and offset. Defaults: limit=50 (max 200).
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	opts := domain.ListOpts{Limit: 50}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		opts.Limit = min(n, 200)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		opts.Offset = n
	}
	return opts
}

func caller(r *http.Request) domain.Identity {
	id, _ := middleware.IdentityFrom(r.Context())
	return id
}
