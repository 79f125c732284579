package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"encoretalks/internal/booking"
	"encoretalks/internal/domain/bookings"
	"encoretalks/internal/domain/users"
	"encoretalks/internal/pricing"
)

type CreateBookingPayload struct {
	ExpertID       string    `json:"expert_id" validate:"required,uuid4"`
	Mode           string    `json:"mode" validate:"required,oneof=fixed per_minute"`
	ScheduledStart time.Time `json:"scheduled_start" validate:"required"`
	ScheduledEnd   time.Time `json:"scheduled_end" validate:"required"`
}

func (app *application) createBookingHandler(w http.ResponseWriter, r *http.Request) {
	var payload CreateBookingPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	expertID, err := uuid.Parse(payload.ExpertID)
	if err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	user := getUserFromContext(r)

	b, err := app.bookings.Create(r.Context(), booking.CreateCommand{
		ClientID:       user.ID,
		ExpertID:       expertID,
		Mode:           pricing.Mode(payload.Mode),
		ScheduledStart: payload.ScheduledStart,
		ScheduledEnd:   payload.ScheduledEnd,
	})
	if err != nil {
		app.bookingErrorResponse(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusCreated, b); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) listBookingsHandler(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)

	filter := bookings.Filter{Page: 1, Limit: 20}
	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && page > 0 {
		filter.Page = page
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit <= 100 {
		filter.Limit = limit
	}
	if s := r.URL.Query().Get("status"); s != "" {
		status := bookings.Status(s)
		switch status {
		case bookings.StatusRequested, bookings.StatusConfirmed, bookings.StatusInProgress,
			bookings.StatusCompleted, bookings.StatusCancelled:
			filter.Status = &status
		default:
			app.badRequestResponse(w, r, errors.New("unknown status filter"))
			return
		}
	}

	var (
		list []bookings.Booking
		err  error
	)
	if r.URL.Query().Get("role") == "expert" {
		expert, expErr := app.store.Experts.GetByProfileID(r.Context(), user.ID)
		if expErr != nil {
			app.notFoundResponse(w, r, expErr)
			return
		}
		list, err = app.store.Bookings.ListByExpert(r.Context(), expert.ID, filter)
	} else {
		list, err = app.store.Bookings.ListByClient(r.Context(), user.ID, filter)
	}
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, list); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) getBookingHandler(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)

	b, ok := app.bookingFromRequest(w, r)
	if !ok {
		return
	}

	if !app.isParticipant(r, user, b) {
		app.forbiddenResponse(w, r)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, b); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) confirmBookingHandler(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)

	b, ok := app.bookingFromRequest(w, r)
	if !ok {
		return
	}

	// Only the expert side accepts a session request.
	if !app.isExpertSide(r, user, b) {
		app.forbiddenResponse(w, r)
		return
	}

	updated, err := app.bookings.Confirm(r.Context(), b.ID)
	if err != nil {
		app.bookingErrorResponse(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, updated); err != nil {
		app.internalServerError(w, r, err)
	}
}

type StartBookingPayload struct {
	ActualStart *time.Time `json:"actual_start,omitempty"`
}

func (app *application) startBookingHandler(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)

	b, ok := app.bookingFromRequest(w, r)
	if !ok {
		return
	}

	if !app.isParticipant(r, user, b) {
		app.forbiddenResponse(w, r)
		return
	}

	var payload StartBookingPayload
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &payload); err != nil {
			app.badRequestResponse(w, r, err)
			return
		}
	}
	actualStart := time.Now().UTC()
	if payload.ActualStart != nil {
		actualStart = *payload.ActualStart
	}

	updated, err := app.bookings.Start(r.Context(), b.ID, actualStart)
	if err != nil {
		app.bookingErrorResponse(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, updated); err != nil {
		app.internalServerError(w, r, err)
	}
}

type CompleteBookingPayload struct {
	ActualEnd *time.Time `json:"actual_end,omitempty"`
}

func (app *application) completeBookingHandler(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)

	b, ok := app.bookingFromRequest(w, r)
	if !ok {
		return
	}

	if !app.isParticipant(r, user, b) {
		app.forbiddenResponse(w, r)
		return
	}

	var payload CompleteBookingPayload
	if r.ContentLength > 0 {
		if err := readJSON(w, r, &payload); err != nil {
			app.badRequestResponse(w, r, err)
			return
		}
	}
	actualEnd := time.Now().UTC()
	if payload.ActualEnd != nil {
		actualEnd = *payload.ActualEnd
	}

	updated, err := app.bookings.Complete(r.Context(), b.ID, actualEnd)
	if err != nil {
		app.bookingErrorResponse(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, updated); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) cancelBookingHandler(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)

	b, ok := app.bookingFromRequest(w, r)
	if !ok {
		return
	}

	if !app.isParticipant(r, user, b) {
		app.forbiddenResponse(w, r)
		return
	}

	updated, err := app.bookings.Cancel(r.Context(), b.ID, user.ID)
	if err != nil {
		app.bookingErrorResponse(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, updated); err != nil {
		app.internalServerError(w, r, err)
	}
}

// bookingFromRequest resolves the {bookingID} route param. It writes the
// error response itself when the lookup fails.
func (app *application) bookingFromRequest(w http.ResponseWriter, r *http.Request) (*bookings.Booking, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "bookingID"))
	if err != nil {
		app.badRequestResponse(w, r, errors.New("invalid booking id"))
		return nil, false
	}

	b, err := app.store.Bookings.GetByID(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, bookings.ErrNotFound):
			app.notFoundResponse(w, r, err)
		default:
			app.internalServerError(w, r, err)
		}
		return nil, false
	}
	return b, true
}

func (app *application) isParticipant(r *http.Request, user *users.User, b *bookings.Booking) bool {
	if user.ID == b.ClientID {
		return true
	}
	return app.isExpertSide(r, user, b)
}

func (app *application) isExpertSide(r *http.Request, user *users.User, b *bookings.Booking) bool {
	expert, err := app.store.Experts.GetByID(r.Context(), b.ExpertID)
	if err != nil {
		return false
	}
	return expert.ProfileID == user.ID
}

func (app *application) bookingErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, booking.ErrNotFound):
		app.notFoundResponse(w, r, err)
	case errors.Is(err, booking.ErrExpertNotFound):
		app.notFoundResponse(w, r, err)
	case errors.Is(err, booking.ErrSlotUnavailable):
		app.conflictResponse(w, r, err)
	case errors.Is(err, booking.ErrInvalidTransition):
		app.conflictResponse(w, r, err)
	case errors.Is(err, pricing.ErrInvalidDuration),
		errors.Is(err, pricing.ErrInvalidActualWindow),
		errors.Is(err, pricing.ErrUnknownMode),
		errors.Is(err, pricing.ErrMissingRate):
		app.badRequestResponse(w, r, err)
	case errors.Is(err, booking.ErrPaymentAuthorizationFailed):
		app.logger.Warnw("payment authorization failed", "path", r.URL.Path, "error", err.Error())
		writeJSONError(w, http.StatusPaymentRequired, "payment authorization failed")
	case errors.Is(err, booking.ErrPaymentCaptureFailed):
		app.logger.Errorw("payment capture failed", "path", r.URL.Path, "error", err.Error())
		writeJSONError(w, http.StatusBadGateway, "payment capture failed, try again")
	default:
		app.internalServerError(w, r, err)
	}
}
