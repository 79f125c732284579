package main

import (
	"context"
	"time"
)

func (app *application) sendBookingRemindersEvery15Mins() {
	const window = 15 * time.Minute

	go func() {
		ticker := time.NewTicker(window)
		defer ticker.Stop()

		// Run once immediately
		app.sendBookingReminders(window)

		// Then run every 15 minutes
		for range ticker.C {
			app.sendBookingReminders(window)
		}
	}()
}

func (app *application) sendBookingReminders(window time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := app.bookings.SendUpcomingReminders(ctx, window); err != nil {
		app.logger.Errorf("Error sending booking reminders: %v", err)
	} else {
		app.logger.Infof("Booking reminder sweep finished at %s", time.Now().Format(time.RFC1123))
	}
}
