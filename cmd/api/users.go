package main

import (
	"errors"
	"net/http"

	"encoretalks/internal/domain/users"
)

type SetPushTokenPayload struct {
	Token string `json:"token" validate:"required,startswith=ExponentPushToken"`
}

// setPushTokenHandler registers the caller's Expo push token so booking
// lifecycle notifications can reach their device.
func (app *application) setPushTokenHandler(w http.ResponseWriter, r *http.Request) {
	var payload SetPushTokenPayload
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	if err := Validate.Struct(payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	user := getUserFromContext(r)

	if err := app.store.Users.SetPushToken(r.Context(), user.ID, payload.Token); err != nil {
		switch {
		case errors.Is(err, users.ErrNotFound):
			app.notFoundResponse(w, r, err)
		default:
			app.internalServerError(w, r, err)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
