package calparse

import (
	"testing"
	"time"

	"github.com/emersion/go-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamiequint/groundeffect/internal/caldavclient"
	"github.com/jamiequint/groundeffect/internal/models"
)

const timedEvent = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:event-1@example.com\r\n" +
	"SUMMARY:Standup\r\n" +
	"DESCRIPTION:Daily sync\r\n" +
	"LOCATION:Zoom\r\n" +
	"STATUS:CONFIRMED\r\n" +
	"TRANSP:OPAQUE\r\n" +
	"DTSTART:20260105T150000Z\r\n" +
	"DTEND:20260105T153000Z\r\n" +
	"ORGANIZER;CN=Alice:mailto:alice@example.com\r\n" +
	"ATTENDEE;CN=Bob;PARTSTAT=ACCEPTED:mailto:bob@example.com\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

const allDayEvent = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:event-2@example.com\r\n" +
	"SUMMARY:Company holiday\r\n" +
	"STATUS:TENTATIVE\r\n" +
	"TRANSP:TRANSPARENT\r\n" +
	"DTSTART;VALUE=DATE:20260301\r\n" +
	"DTEND;VALUE=DATE:20260302\r\n" +
	"RRULE:FREQ=YEARLY\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func eventObject(t *testing.T, raw, path, etag string) caldavclient.EventObject {
	t.Helper()
	cal, err := ical.ParseCalendar([]byte(raw))
	require.NoError(t, err)
	return caldavclient.EventObject{Path: path, ETag: etag, Data: cal}
}

func TestParseExtractsCoreFields(t *testing.T) {
	obj := eventObject(t, timedEvent, "events/1.ics", "etag-1")
	item, err := Parse("alice@example.com", "personal", obj)
	require.NoError(t, err)

	assert.Equal(t, "event-1@example.com", item.UID)
	assert.Equal(t, "Standup", item.Summary)
	assert.Equal(t, "Daily sync", item.Description)
	assert.Equal(t, "Zoom", item.Location)
	assert.Equal(t, "etag-1", item.ETag)
	assert.False(t, item.AllDay)
	assert.Equal(t, time.Date(2026, 1, 5, 15, 0, 0, 0, time.UTC), item.Start)
	assert.Equal(t, time.Date(2026, 1, 5, 15, 30, 0, 0, time.UTC), item.End)
}

func TestParseExtractsOrganizerAndAttendees(t *testing.T) {
	obj := eventObject(t, timedEvent, "events/1.ics", "etag-1")
	item, err := Parse("alice@example.com", "personal", obj)
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", item.Organizer.Email)
	assert.Equal(t, "Alice", item.Organizer.Name)
	assert.True(t, item.Organizer.Organizer)

	require.Len(t, item.Attendees, 1)
	assert.Equal(t, "bob@example.com", item.Attendees[0].Email)
	assert.Equal(t, "Bob", item.Attendees[0].Name)
	assert.Equal(t, "ACCEPTED", item.Attendees[0].ResponseStatus)
	assert.False(t, item.Attendees[0].Organizer)
}

func TestParseDetectsAllDayEvent(t *testing.T) {
	obj := eventObject(t, allDayEvent, "events/2.ics", "etag-2")
	item, err := Parse("alice@example.com", "personal", obj)
	require.NoError(t, err)

	assert.True(t, item.AllDay)
	assert.Equal(t, "FREQ=YEARLY", item.RecurrenceRule)
}

func TestParseMapsStatusAndTransparency(t *testing.T) {
	timed, err := Parse("alice@example.com", "personal", eventObject(t, timedEvent, "events/1.ics", "etag-1"))
	require.NoError(t, err)
	assert.Equal(t, models.EventConfirmed, timed.Status)
	assert.Equal(t, models.TransparencyBusy, timed.Transparency)

	allDay, err := Parse("alice@example.com", "personal", eventObject(t, allDayEvent, "events/2.ics", "etag-2"))
	require.NoError(t, err)
	assert.Equal(t, models.EventTentative, allDay.Status)
	assert.Equal(t, models.TransparencyFree, allDay.Transparency)
}

func TestParseHandlesMissingCalendarData(t *testing.T) {
	obj := caldavclient.EventObject{Path: "events/3.ics", ETag: "etag-3"}
	item, err := Parse("alice@example.com", "personal", obj)
	require.NoError(t, err)
	assert.Equal(t, "etag-3", item.ETag)
	assert.Empty(t, item.UID)
}
