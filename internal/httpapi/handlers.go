package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"slotsync/internal/backend"
	"slotsync/internal/booking"
	"slotsync/internal/bookings"
	"slotsync/internal/checkout"
	"slotsync/internal/report"
	"slotsync/internal/session"
	"slotsync/internal/slots"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type checkoutRequest struct {
	Email string       `json:"email"`
	Date  slots.Date   `json:"date"`
	Time  *slots.Clock `json:"time"`
}

type checkoutResponse struct {
	ID    string           `json:"id"`
	Order backend.Order    `json:"order"`
	Flow  booking.Snapshot `json:"flow"`
}

type detailsRequest struct {
	Name    string `json:"name"`
	College string `json:"college"`
}

type dateRequest struct {
	Date slots.Date `json:"date"`
}

type slotRequest struct {
	Time *slots.Clock `json:"time"`
}

type bookingSummaryResponse struct {
	bookings.Summary
	Title string `json:"title"`
}

func emailParam(r *http.Request) string {
	return session.NormalizeEmail(chi.URLParam(r, "email"))
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	days, err := s.svc.Slots(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if days == nil {
		days = []slots.Day{}
	}
	writeJSON(w, http.StatusOK, days)
}

func (s *Server) handleSlotsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.Summary(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if summary == nil {
		summary = []slots.SummaryDay{}
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	days, err := s.svc.Slots(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	summary, err := s.svc.Summary(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}

	wb, err := report.Availability(days, summary)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer wb.Close()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="availability.xlsx"`)
	if err := wb.Save(w); err != nil {
		s.logger.Error().Err(err).Msg("write workbook")
	}
}

func (s *Server) handleBookingSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.BookingSummary(r.Context(), emailParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingSummaryResponse{Summary: summary, Title: summary.Title()})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var p session.Profile
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	profile, err := s.sessions.Login(r.Context(), p)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	profile, err := s.sessions.Current(r.Context(), emailParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	var req detailsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	profile, err := s.sessions.UpdateDetails(r.Context(), emailParam(r), req.Name, req.College)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(r.Context(), emailParam(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFlow(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Flow(r.Context(), emailParam(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSelectDate(w http.ResponseWriter, r *http.Request) {
	var req dateRequest
	if err := decodeJSON(r, &req); err != nil || req.Date.IsZero() {
		writeError(w, http.StatusBadRequest, "date is required; expected YYYY-MM-DD")
		return
	}
	snap, err := s.svc.SelectDate(r.Context(), emailParam(r), req.Date)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleToggleSlot(w http.ResponseWriter, r *http.Request) {
	var req slotRequest
	if err := decodeJSON(r, &req); err != nil || req.Time == nil {
		writeError(w, http.StatusBadRequest, "time is required; expected HH:MM")
		return
	}
	snap, err := s.svc.ToggleSlot(r.Context(), emailParam(r), *req.Time)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStartCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Date.IsZero() || req.Time == nil {
		writeError(w, http.StatusBadRequest, "email, date and time are required")
		return
	}

	started, err := s.svc.StartCheckout(r.Context(), req.Email, req.Date, *req.Time)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{
		ID:    started.Attempt.ID,
		Order: started.Attempt.Order,
		Flow:  started.Flow,
	})
}

func (s *Server) handleCompleteCheckout(w http.ResponseWriter, r *http.Request) {
	var proof checkout.Proof
	if err := decodeJSON(r, &proof); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	conf, err := s.svc.CompleteCheckout(r.Context(), chi.URLParam(r, "id"), proof)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conf)
}

func (s *Server) handleCancelCheckout(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.CancelCheckout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true, "flow": snap})
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	conf, err := s.svc.Pay(r.Context(), chi.URLParam(r, "id"), s.gateway)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conf)
}
