package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

type errorBody struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError sends the same envelope the handlers use for failures.
func writeError(w http.ResponseWriter, status int, kind domain.ErrorKind, msg string) {
	var body errorBody
	body.Error.Code = kind.String()
	body.Error.Message = msg
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
