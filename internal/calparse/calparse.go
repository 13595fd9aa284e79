// Package calparse turns a fetched CalDAV event object into a
// models.CalendarItem.
//
// Grounded on internal/caldavclient/recurrence.go's established
// event.Props.Get(name).Value access pattern — no speculative convenience
// methods beyond what that file already demonstrates working.
package calparse

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/jamiequint/groundeffect/internal/caldavclient"
	"github.com/jamiequint/groundeffect/internal/models"
)

// Parse implements sync.EventParser, building a models.CalendarItem from
// one fetched CalDAV object's parsed iCalendar payload. VALARM subcomponents
// (Reminders) are not extracted: the example pack shows no precedent for
// walking go-ical's VEVENT/VALARM component nesting, and guessing at that
// structure risked fabricating an unverified API shape.
func Parse(accountID, calendarID string, obj caldavclient.EventObject) (models.CalendarItem, error) {
	c := models.CalendarItem{
		AccountID:  accountID,
		CalendarID: calendarID,
		ETag:       obj.ETag,
	}
	if obj.Data == nil {
		return c, nil
	}

	events := obj.Data.Events()
	if len(events) == 0 {
		return c, nil
	}
	event := events[0]

	if prop := event.Props.Get("UID"); prop != nil {
		c.UID = prop.Value
	}
	if prop := event.Props.Get("SUMMARY"); prop != nil {
		c.Summary = prop.Value
	}
	if prop := event.Props.Get("DESCRIPTION"); prop != nil {
		c.Description = prop.Value
	}
	if prop := event.Props.Get("LOCATION"); prop != nil {
		c.Location = prop.Value
	}
	if prop := event.Props.Get(ical.PropRecurrenceRule); prop != nil {
		c.RecurrenceRule = prop.Value
	}
	if prop := event.Props.Get("RECURRENCE-ID"); prop != nil {
		c.RecurrenceID = prop.Value
	}
	if prop := event.Props.Get("STATUS"); prop != nil {
		c.Status = statusFromICal(prop.Value)
	} else {
		c.Status = models.EventConfirmed
	}
	if prop := event.Props.Get("TRANSP"); prop != nil && strings.EqualFold(prop.Value, "TRANSPARENT") {
		c.Transparency = models.TransparencyFree
	} else {
		c.Transparency = models.TransparencyBusy
	}

	if dtstart := event.Props.Get(ical.PropDateTimeStart); dtstart != nil {
		if t, err := dtstart.DateTime(time.UTC); err == nil {
			c.Start = t
		}
		c.AllDay = isDateOnly(dtstart)
	}
	if dtend := event.Props.Get("DTEND"); dtend != nil {
		if t, err := dtend.DateTime(time.UTC); err == nil {
			c.End = t
		}
	}

	if prop := event.Props.Get("ORGANIZER"); prop != nil {
		c.Organizer = attendeeFromProp(*prop, true)
	}
	for _, prop := range event.Props["ATTENDEE"] {
		c.Attendees = append(c.Attendees, attendeeFromProp(prop, false))
	}

	return c, nil
}

func statusFromICal(v string) models.EventStatus {
	switch strings.ToUpper(v) {
	case "TENTATIVE":
		return models.EventTentative
	case "CANCELLED":
		return models.EventCancelled
	default:
		return models.EventConfirmed
	}
}

// isDateOnly reports whether a DTSTART/DTEND carries VALUE=DATE, marking an
// all-day event rather than a timed one. The parameter name is the raw
// RFC 5545 token rather than a library constant, since no Params accessor
// constant has direct precedent in the example pack.
func isDateOnly(prop *ical.Prop) bool {
	return prop.Params.Get("VALUE") == "DATE"
}

func attendeeFromProp(prop ical.Prop, organizer bool) models.Attendee {
	email := strings.TrimPrefix(strings.ToLower(prop.Value), "mailto:")
	a := models.Attendee{
		Email:     email,
		Name:      prop.Params.Get("CN"),
		Organizer: organizer,
	}
	if status := prop.Params.Get("PARTSTAT"); status != "" {
		a.ResponseStatus = status
	}
	return a
}
