package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/srgjo27/travel_booking/internal/core/services"
)

type BookingHandler struct {
	svc *services.BookingService
}

func NewBookingHandler(svc *services.BookingService) *BookingHandler {
	return &BookingHandler{svc: svc}
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// CreateBooking answers 201 for an admitted request. A rejection is not an
// error: its body carries admitted=false and the reason.
func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req services.AdmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if sub, ok := authenticatedRequester(r.Context()); ok {
		if req.RequesterID == "" {
			req.RequesterID = sub
		}
		if !h.allowed(r, req.RequesterID) {
			writeError(w, http.StatusForbidden, "cannot book on behalf of another requester")
			return
		}
	}
	if !validateBody(w, &req) {
		return
	}

	resp, err := h.svc.Admit(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if !resp.Admitted {
		writeJSON(w, rejectionStatus(resp.Reason), resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.svc.GetBooking(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !h.allowed(r, booking.RequesterID.String()) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

func (h *BookingHandler) ListRequesterBookings(w http.ResponseWriter, r *http.Request) {
	requesterID := chi.URLParam(r, "id")
	if !h.allowed(r, requesterID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	bookings, err := h.svc.ListByRequester(r.Context(), requesterID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

func (h *BookingHandler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "id")

	if _, ok := authenticatedRequester(r.Context()); ok {
		booking, err := h.svc.GetBooking(r.Context(), bookingID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if !h.allowed(r, booking.RequesterID.String()) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	resp, err := h.svc.Cancel(r.Context(), bookingID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	booking, err := h.svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// allowed reports whether the caller may act for requesterID. Without auth
// every caller may.
func (h *BookingHandler) allowed(r *http.Request, requesterID string) bool {
	sub, ok := authenticatedRequester(r.Context())
	if !ok || isAdmin(r.Context()) {
		return true
	}
	return strings.EqualFold(sub, requesterID)
}
