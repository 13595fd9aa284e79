package models

import "time"

// EventStatus mirrors iCalendar STATUS for VEVENT.
type EventStatus string

const (
	EventConfirmed EventStatus = "confirmed"
	EventTentative EventStatus = "tentative"
	EventCancelled EventStatus = "cancelled"
)

// Transparency mirrors iCalendar TRANSP.
type Transparency string

const (
	TransparencyBusy Transparency = "busy"
	TransparencyFree Transparency = "free"
)

// Attendee is one VEVENT ATTENDEE entry.
type Attendee struct {
	Name           string `json:"name,omitempty"`
	Email          string `json:"email"`
	ResponseStatus string `json:"response_status,omitempty"`
	Organizer      bool   `json:"organizer,omitempty"`
}

// Reminder is one VALARM entry, expressed as minutes before the event.
type Reminder struct {
	MinutesBefore int    `json:"minutes_before"`
	Method        string `json:"method,omitempty"`
}

// CalendarItem is one mirrored calendar event.
type CalendarItem struct {
	ID             int64        `json:"id"`
	AccountID      string       `json:"account_id"`
	CalendarID     string       `json:"calendar_id"`
	ProviderEventID string      `json:"provider_event_id"`
	UID            string       `json:"uid"` // iCalendar UID
	ETag           string       `json:"etag"`
	Summary        string       `json:"summary"`
	Description    string       `json:"description,omitempty"`
	Location       string       `json:"location,omitempty"`
	Start          time.Time    `json:"start"`
	End            time.Time    `json:"end"`
	AllDay         bool         `json:"all_day"`
	TimeZone       string       `json:"timezone,omitempty"`
	RecurrenceRule string       `json:"recurrence_rule,omitempty"`
	RecurrenceID   string       `json:"recurrence_id,omitempty"`
	Organizer      Attendee     `json:"organizer"`
	Attendees      []Attendee   `json:"attendees,omitempty"`
	Status         EventStatus  `json:"status"`
	Transparency   Transparency `json:"transparency"`
	Reminders      []Reminder   `json:"reminders,omitempty"`
	Embedding      []float32    `json:"-"`
	NeedsReembed   bool         `json:"-"`
	SyncedAt       time.Time    `json:"synced_at"`
}

// IsRecurring reports whether this item carries a master RRULE.
func (c CalendarItem) IsRecurring() bool {
	return c.RecurrenceRule != ""
}

// IsException reports whether this item is a modified instance of a
// recurring series, keyed by its master's recurrence-id.
func (c CalendarItem) IsException() bool {
	return c.RecurrenceID != ""
}
