package caldavclient

import (
	"errors"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

var errNoDTStart = errors.New("caldavclient: event has no DTSTART")

// ExpandOccurrences returns the occurrence start times of a VEVENT between
// from and to. An event with an RRULE is expanded from its DTSTART, and an
// occurrence falling exactly on from or to is included. An event without an
// RRULE returns a single occurrence at its own start time if that lies in
// [from, to), and none otherwise.
func ExpandOccurrences(event *ical.Event, from, to time.Time) ([]time.Time, error) {
	dtstart := event.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return nil, errNoDTStart
	}
	start, err := dtstart.DateTime(time.UTC)
	if err != nil {
		return nil, err
	}

	rruleProp := event.Props.Get(ical.PropRecurrenceRule)
	if rruleProp == nil {
		if !start.Before(from) && start.Before(to) {
			return []time.Time{start}, nil
		}
		return nil, nil
	}

	option, err := rrule.StrToROption(rruleProp.Value)
	if err != nil {
		return nil, err
	}
	option.Dtstart = start

	rule, err := rrule.NewRRule(*option)
	if err != nil {
		return nil, err
	}

	occurrences := rule.Between(from, to, true)
	return occurrences, nil
}

// IsWithinWindow reports whether a recurring event (or its expansion) has
// at least one occurrence between from and to (bounds as in
// ExpandOccurrences), so a series that began before from still counts when
// one of its instances falls inside the window.
func IsWithinWindow(event *ical.Event, from, to time.Time) (bool, error) {
	occurrences, err := ExpandOccurrences(event, from, to)
	if err != nil {
		return false, err
	}
	return len(occurrences) > 0, nil
}
