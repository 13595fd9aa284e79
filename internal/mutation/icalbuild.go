package mutation

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/jamiequint/groundeffect/internal/ids"
	"github.com/jamiequint/groundeffect/internal/models"
)

// EventFields describes the VEVENT properties create_event/update_event
// accept from a tool call. UID is the caller-supplied event identity for an
// update; left empty, BuildEventCalendar mints a fresh one.
type EventFields struct {
	UID         string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	AllDay      bool
	Attendees   []models.Attendee
}

// BuildEventCalendar renders fields as a single-VEVENT RFC 5545 document and
// parses it back into an *ical.Calendar with the package's one confirmed
// read API (ical.ParseCalendar). Built on the standard library and raw text
// rather than go-ical's component-construction surface: every pack usage of
// go-ical only ever reads a VEVENT already on the wire (see
// internal/calparse), never builds one, so there is no precedent for an
// ical.NewCalendar/Props.Set call shape to ground a composer on.
func BuildEventCalendar(fields EventFields) (*ical.Calendar, error) {
	cal, err := ical.ParseCalendar(strings.NewReader(string(RenderEventText(fields))))
	if err != nil {
		return nil, models.Validation("build event calendar", err)
	}
	return cal, nil
}

// RenderEventText renders fields as raw RFC 5545 text, without parsing it
// back. Used directly for create_event/update_event's unconfirmed preview
// mode, and as the first step of BuildEventCalendar.
func RenderEventText(fields EventFields) []byte {
	uid := fields.UID
	if uid == "" {
		uid = ids.New()
	}

	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\n")
	b.WriteString("VERSION:2.0\r\n")
	b.WriteString("PRODID:-//groundeffect//EN\r\n")
	b.WriteString("BEGIN:VEVENT\r\n")
	fmt.Fprintf(&b, "UID:%s\r\n", uid)
	fmt.Fprintf(&b, "DTSTAMP:%s\r\n", icalDateTime(time.Now().UTC(), false))
	fmt.Fprintf(&b, "DTSTART%s\r\n", icalDateTimeProp(fields.Start, fields.AllDay))
	fmt.Fprintf(&b, "DTEND%s\r\n", icalDateTimeProp(fields.End, fields.AllDay))
	fmt.Fprintf(&b, "SUMMARY:%s\r\n", icalEscape(fields.Summary))
	if fields.Description != "" {
		fmt.Fprintf(&b, "DESCRIPTION:%s\r\n", icalEscape(fields.Description))
	}
	if fields.Location != "" {
		fmt.Fprintf(&b, "LOCATION:%s\r\n", icalEscape(fields.Location))
	}
	for _, a := range fields.Attendees {
		fmt.Fprintf(&b, "ATTENDEE;CN=%s:mailto:%s\r\n", icalEscape(a.Name), a.Email)
	}
	b.WriteString("END:VEVENT\r\n")
	b.WriteString("END:VCALENDAR\r\n")
	return []byte(b.String())
}

// icalDateTimeProp renders the ";VALUE=DATE:" / ":" + value tail of a
// DTSTART/DTEND line.
func icalDateTimeProp(t time.Time, allDay bool) string {
	if allDay {
		return ";VALUE=DATE:" + t.Format("20060102")
	}
	return ":" + icalDateTime(t, true)
}

func icalDateTime(t time.Time, utc bool) string {
	if utc {
		return t.UTC().Format("20060102T150405Z")
	}
	return t.Format("20060102T150405Z")
}

func icalEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `,`, `\,`, `;`, `\;`, "\n", `\n`)
	return r.Replace(s)
}
