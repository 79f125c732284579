package notifications

import (
	"context"
	"fmt"

	"github.com/9ssi7/exponent"
	"go.uber.org/zap"

	"encoretalks/internal/domain/bookings"
	"encoretalks/internal/domain/experts"
	"encoretalks/internal/domain/users"
	"encoretalks/internal/mailer"
)

type BookingEvent string

const (
	BookingCreated   BookingEvent = "CREATED"
	BookingConfirmed BookingEvent = "CONFIRMED"
	BookingStarted   BookingEvent = "STARTED"
	BookingCompleted BookingEvent = "COMPLETED"
	BookingCancelled BookingEvent = "CANCELLED"
	BookingReminder  BookingEvent = "REMINDER"
)

// Notifier delivers booking lifecycle notifications. Delivery is best-effort:
// failures are logged and never surfaced to the booking flow.
type Notifier interface {
	NotifyBooking(ctx context.Context, event BookingEvent, booking *bookings.Booking)
}

type BookingNotifier struct {
	mailer  mailer.Client
	push    PushSender
	users   users.Store
	experts experts.Store
	logger  *zap.SugaredLogger
}

func NewBookingNotifier(mail mailer.Client, push PushSender, usersStore users.Store, expertsStore experts.Store, logger *zap.SugaredLogger) *BookingNotifier {
	return &BookingNotifier{
		mailer:  mail,
		push:    push,
		users:   usersStore,
		experts: expertsStore,
		logger:  logger,
	}
}

func (n *BookingNotifier) NotifyBooking(ctx context.Context, event BookingEvent, booking *bookings.Booking) {
	client, err := n.users.GetByID(ctx, booking.ClientID)
	if err != nil {
		n.logger.Errorw("notification: client lookup failed", "booking", booking.Reference, "error", err)
		client = nil
	}

	var expertUser *users.User
	if profile, err := n.experts.GetByID(ctx, booking.ExpertID); err != nil {
		n.logger.Errorw("notification: expert lookup failed", "booking", booking.Reference, "error", err)
	} else if expertUser, err = n.users.GetByID(ctx, profile.ProfileID); err != nil {
		n.logger.Errorw("notification: expert user lookup failed", "booking", booking.Reference, "error", err)
		expertUser = nil
	}

	title, body := eventCopy(event, booking)

	for _, u := range []*users.User{client, expertUser} {
		if u == nil {
			continue
		}
		n.sendEmail(event, u, booking)
		n.sendPush(ctx, u, title, body, event, booking)
	}
}

func (n *BookingNotifier) sendEmail(event BookingEvent, user *users.User, booking *bookings.Booking) {
	data := map[string]any{
		"FirstName":      user.FirstName,
		"Reference":      booking.Reference,
		"ScheduledStart": booking.ScheduledStart,
		"ScheduledEnd":   booking.ScheduledEnd,
		"PriceDollars":   float64(booking.PriceCentsTotal) / 100,
		"Status":         string(booking.Status),
	}

	template := mailer.BookingUpdateTemplate
	switch event {
	case BookingCreated:
		template = mailer.BookingRequestedTemplate
	case BookingConfirmed:
		template = mailer.BookingConfirmedTemplate
	case BookingReminder:
		template = mailer.BookingReminderTemplate
	}

	if _, err := n.mailer.Send(template, user.FirstName, user.Email, data); err != nil {
		n.logger.Errorw("notification: email failed", "booking", booking.Reference, "email", user.Email, "error", err)
	}
}

func (n *BookingNotifier) sendPush(ctx context.Context, user *users.User, title, body string, event BookingEvent, booking *bookings.Booking) {
	if n.push == nil || user.ExpoPushToken == nil {
		return
	}

	token := exponent.Token(*user.ExpoPushToken)
	msg := &exponent.Message{
		To:    []*exponent.Token{&token},
		Title: title,
		Body:  body,
		Data: map[string]string{
			"type":      "booking",
			"event":     string(event),
			"bookingId": booking.ID.String(),
			"screen":    "bookings-screen",
		},
	}

	if _, err := n.push.PublishSingle(ctx, msg); err != nil {
		n.logger.Errorw("notification: push failed", "booking", booking.Reference, "error", err)
	}
}

func eventCopy(event BookingEvent, booking *bookings.Booking) (title, body string) {
	switch event {
	case BookingCreated:
		return "New Session Request", fmt.Sprintf("Session %s has been requested", booking.Reference)
	case BookingConfirmed:
		return "Session Confirmed", fmt.Sprintf("Session %s is confirmed for %s", booking.Reference, booking.ScheduledStart.Format("Jan 2 15:04 MST"))
	case BookingStarted:
		return "Session Started", fmt.Sprintf("Session %s is now in progress", booking.Reference)
	case BookingCompleted:
		return "Session Completed", fmt.Sprintf("Session %s has ended", booking.Reference)
	case BookingCancelled:
		return "Session Cancelled", fmt.Sprintf("Session %s has been cancelled", booking.Reference)
	case BookingReminder:
		return "Upcoming Session", fmt.Sprintf("Session %s starts at %s", booking.Reference, booking.ScheduledStart.Format("15:04 MST"))
	}
	return "Session Update", fmt.Sprintf("Session %s has an update", booking.Reference)
}
