// Package jobs holds the payloads the scheduler fires and the Runner that
// executes them.
package jobs

import "time"

// ReminderCommand delivers one stored reminder and deactivates it.
type ReminderCommand struct {
	ReminderID int64
	UserID     int64
	ChatID     int64
	Content    string
}

// DailySummaryCommand summarizes the user's journal for the previous day.
type DailySummaryCommand struct {
	UserID int64
	ChatID int64
}

// CheckinCommand greets the user and shows today's todo list.
type CheckinCommand struct {
	UserID int64
	ChatID int64
}

// MaintenanceCommand prunes inactive reminders older than RetainFor.
type MaintenanceCommand struct {
	RetainFor time.Duration
}

func (ReminderCommand) CommandName() string     { return "reminder" }
func (DailySummaryCommand) CommandName() string { return "daily-summary" }
func (CheckinCommand) CommandName() string      { return "hourly-checkin" }
func (MaintenanceCommand) CommandName() string  { return "maintenance" }
