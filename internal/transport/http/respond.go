package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"vigil/internal/biometric"
	"vigil/pkg/sentinel"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError translates sentinel errors into HTTP status codes so every
// handler reports failures the same way. Internal details stay in the
// logs; the client sees only the category.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, sentinel.ErrConflict),
		errors.Is(err, sentinel.ErrInvalidState),
		errors.Is(err, sentinel.ErrAlreadyUsed):
		status = http.StatusConflict
	case errors.Is(err, sentinel.ErrExpired):
		status = http.StatusGone
	case errors.Is(err, sentinel.ErrUnsupportedFormat):
		status = http.StatusBadRequest
	case errors.Is(err, sentinel.ErrExtractionFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, sentinel.ErrTransport):
		status = http.StatusBadGateway
	case errors.Is(err, biometric.ErrInvariant):
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
