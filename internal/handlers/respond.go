package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/linguachat/backend/internal/apperr"
	"github.com/linguachat/backend/internal/logging"
)

const maxJSONBody = 1 << 20

type errorResponse struct {
	Error         string   `json:"error"`
	MissingFields []string `json:"missingFields,omitempty"`
}

func respondJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.FromContext(ctx).Error("encode response body", "status", status, "error", err)
		return
	}

	logger := logging.FromContext(ctx)
	switch {
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "status", status, "response", payload)
	case status >= http.StatusBadRequest:
		logger.Warn("request returned client error", "status", status, "response", payload)
	}
}

// respondError maps a service error onto a status code. Backend failures are
// logged with their cause and answered with a generic body.
func respondError(ctx context.Context, w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		logging.FromContext(ctx).Error("unclassified error", "error", err)
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "Internal Server Error"})
		return
	}

	if appErr.Kind == apperr.KindUnavailable {
		logging.FromContext(ctx).Error("backend unavailable", "error", err)
		respondJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: "Service temporarily unavailable"})
		return
	}

	respondJSON(ctx, w, statusFor(appErr.Kind), errorResponse{Error: appErr.Message, MissingFields: appErr.Fields})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindInvalidOrExpiredCode:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalidCredentials:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a JSON body into dst, answering 400 itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(dst); err != nil {
		logging.FromContext(r.Context()).Warn("invalid request payload", "error", err)
		respondJSON(r.Context(), w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

// codeString accepts a one-time code sent either as a JSON string or a number.
type codeString string

func (c *codeString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = codeString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = codeString(n.String())
	return nil
}
