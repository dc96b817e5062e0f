package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"slotsync/internal/backend"
	"slotsync/internal/booking"
	"slotsync/internal/checkout"
	"slotsync/internal/session"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps a service error to its HTTP status and user text.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "Session not found"
	case errors.Is(err, session.ErrInvalidProfile):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, checkout.ErrAttemptNotFound):
		return http.StatusNotFound, "Checkout not found"
	case errors.Is(err, checkout.ErrAttemptUsed):
		return http.StatusConflict, "Checkout already completed"
	case errors.Is(err, booking.ErrPaymentCancelled):
		return http.StatusConflict, booking.UserMessage(err)
	case errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	}

	if kind, ok := booking.KindOf(err); ok {
		msg := booking.UserMessage(err)
		switch kind {
		case booking.KindValidation:
			return http.StatusConflict, msg
		case booking.KindPaymentInit, booking.KindFetch:
			return http.StatusBadGateway, msg
		case booking.KindPaymentVerification:
			return http.StatusPaymentRequired, msg
		}
	}

	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		return http.StatusBadGateway, "Backend request failed"
	}
	return http.StatusInternalServerError, "Internal error"
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	ev := s.logger.Warn()
	if status >= http.StatusInternalServerError {
		ev = s.logger.Error()
	}
	ev.Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	writeError(w, status, msg)
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
