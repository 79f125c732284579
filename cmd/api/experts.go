package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"encoretalks/internal/availability"
	"encoretalks/internal/booking"
	"encoretalks/internal/domain/experts"
)

type CreateExpertProfilePayload struct {
	Headline           string              `json:"headline" validate:"required,max=160"`
	RateCentsPerMinute int64               `json:"rate_cents_per_minute" validate:"gte=0"`
	Fixed15Cents       int64               `json:"fixed_15m_cents" validate:"gte=0"`
	Fixed30Cents       int64               `json:"fixed_30m_cents" validate:"gte=0"`
	Fixed60Cents       int64               `json:"fixed_60m_cents" validate:"gte=0"`
	Availability       availability.Weekly `json:"availability" validate:"required"`
}

func (app *application) createExpertProfileHandler(w http.ResponseWriter, r *http.Request) {
	var payload CreateExpertProfilePayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	payload.Availability.Normalize()
	if err := payload.Availability.Validate(); err != nil {
		app.unprocessableEntityResponse(w, r, err)
		return
	}

	user := getUserFromContext(r)

	expert := &experts.Expert{
		ID:                 uuid.New(),
		ProfileID:          user.ID,
		Headline:           payload.Headline,
		RateCentsPerMinute: payload.RateCentsPerMinute,
		Fixed15Cents:       payload.Fixed15Cents,
		Fixed30Cents:       payload.Fixed30Cents,
		Fixed60Cents:       payload.Fixed60Cents,
		Availability:       payload.Availability,
		IsActive:           true,
	}

	if err := app.store.Experts.Create(r.Context(), expert); err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusCreated, expert); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) getExpertHandler(w http.ResponseWriter, r *http.Request) {
	expert, ok := app.expertFromRequest(w, r)
	if !ok {
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, expert); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) getExpertAvailabilityHandler(w http.ResponseWriter, r *http.Request) {
	expert, ok := app.expertFromRequest(w, r)
	if !ok {
		return
	}

	// Busy intervals for the coming week, so clients can grey out slots.
	from := time.Now().UTC()
	busy, err := app.store.Bookings.CalendarIntervals(r.Context(), expert.ID, from, from.AddDate(0, 0, 7))
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	data := map[string]any{
		"weekly": expert.Availability,
		"busy":   busy,
	}

	if err := app.jsonResponse(w, http.StatusOK, data); err != nil {
		app.internalServerError(w, r, err)
	}
}

type UpdateAvailabilityPayload struct {
	Availability availability.Weekly `json:"availability" validate:"required"`
}

func (app *application) updateExpertAvailabilityHandler(w http.ResponseWriter, r *http.Request) {
	expert, ok := app.expertFromRequest(w, r)
	if !ok {
		return
	}

	user := getUserFromContext(r)
	if expert.ProfileID != user.ID {
		app.forbiddenResponse(w, r)
		return
	}

	var payload UpdateAvailabilityPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	payload.Availability.Normalize()
	if err := payload.Availability.Validate(); err != nil {
		app.unprocessableEntityResponse(w, r, err)
		return
	}

	if err := app.store.Experts.UpdateAvailability(r.Context(), expert.ID, payload.Availability); err != nil {
		switch {
		case errors.Is(err, experts.ErrNotFound):
			app.notFoundResponse(w, r, err)
		default:
			app.internalServerError(w, r, err)
		}
		return
	}

	expert.Availability = payload.Availability

	if err := app.jsonResponse(w, http.StatusOK, expert); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) nextAvailableSlotHandler(w http.ResponseWriter, r *http.Request) {
	expertID, err := uuid.Parse(chi.URLParam(r, "expertID"))
	if err != nil {
		app.badRequestResponse(w, r, errors.New("invalid expert id"))
		return
	}

	from := time.Now().UTC()
	if q := r.URL.Query().Get("from"); q != "" {
		parsed, err := time.Parse(time.RFC3339, q)
		if err != nil {
			app.badRequestResponse(w, r, err)
			return
		}
		from = parsed
	}

	at, found, err := app.bookings.NextAvailableSlot(r.Context(), expertID, from)
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrExpertNotFound):
			app.notFoundResponse(w, r, err)
		default:
			app.internalServerError(w, r, err)
		}
		return
	}

	data := map[string]any{"found": found}
	if found {
		data["next_slot"] = at
	}

	if err := app.jsonResponse(w, http.StatusOK, data); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) expertEarningsHandler(w http.ResponseWriter, r *http.Request) {
	expert, ok := app.expertFromRequest(w, r)
	if !ok {
		return
	}

	user := getUserFromContext(r)
	if expert.ProfileID != user.ID {
		app.forbiddenResponse(w, r)
		return
	}

	earnings, err := app.store.Bookings.EarningsForExpert(r.Context(), expert.ID)
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, earnings); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) expertFromRequest(w http.ResponseWriter, r *http.Request) (*experts.Expert, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "expertID"))
	if err != nil {
		app.badRequestResponse(w, r, errors.New("invalid expert id"))
		return nil, false
	}

	expert, err := app.store.Experts.GetByID(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, experts.ErrNotFound):
			app.notFoundResponse(w, r, err)
		default:
			app.internalServerError(w, r, err)
		}
		return nil, false
	}
	return expert, true
}
