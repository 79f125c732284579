package mailer

import "embed"

const (
	FromName                 = "EncoreTalks"
	maxRetires               = 3
	UserWelcomeTemplate      = "user_welcome.tmpl"
	BookingRequestedTemplate = "booking_requested.tmpl"
	BookingConfirmedTemplate = "booking_confirmed.tmpl"
	BookingReminderTemplate  = "booking_reminder.tmpl"
	BookingUpdateTemplate    = "booking_update.tmpl"
)

//go:embed "templates"
var FS embed.FS

type Client interface {
	Send(templateFile, username, email string, data any) (int, error)
}
