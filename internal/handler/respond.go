package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/umbrellashare/umbrellashare/internal/domain"
	"github.com/umbrellashare/umbrellashare/internal/service"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError maps err onto a status code and a stable error code the UI
// can switch on.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status, resp := errorResponse(err)
	writeJSON(w, logger, status, resp)
}

func errorResponse(err error) (int, ErrorResponse) {
	var ve *ValidationError
	var pwe *service.PartialWriteError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ErrorResponse{Error: "validation failed", Code: "invalid_request", Fields: ve.Fields}
	case errors.Is(err, domain.ErrInvalidIdentity):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid phone or student id", Code: "invalid_identity"}
	case errors.Is(err, domain.ErrNoSession):
		return http.StatusUnauthorized, ErrorResponse{Error: "please log in first", Code: "no_session"}
	case errors.Is(err, domain.ErrAlreadyBorrowed):
		return http.StatusConflict, ErrorResponse{Error: "you already hold an umbrella", Code: "already_borrowed"}
	case errors.Is(err, domain.ErrNotBorrowed):
		return http.StatusConflict, ErrorResponse{Error: "you hold no umbrella", Code: "not_borrowed"}
	case errors.Is(err, domain.ErrNoUmbrellas):
		return http.StatusConflict, ErrorResponse{Error: "no umbrellas left at this point", Code: "no_umbrellas"}
	case errors.Is(err, domain.ErrPointNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "point not found", Code: "point_not_found"}
	case errors.Is(err, domain.ErrWrongReturnPoint):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: "return the umbrella to the point it came from", Code: "wrong_return_point"}
	case errors.As(err, &pwe):
		return http.StatusBadGateway, ErrorResponse{Error: "update incomplete, please check your status", Code: "partial_write"}
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusBadGateway, ErrorResponse{Error: "upstream credential rejected", Code: "store_unauthenticated"}
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, ErrorResponse{Error: "too many concurrent updates, try again", Code: "conflict"}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not found", Code: "not_found"}
	case errors.Is(err, domain.ErrTransport):
		return http.StatusBadGateway, ErrorResponse{Error: "document store unavailable", Code: "store_unavailable"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal"}
	}
}
