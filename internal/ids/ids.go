// Package ids generates and parses the composite identifiers the engine
// uses to address provider-native objects without a central id service.
package ids

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// New returns a fresh random identifier, used for generated event UIDs,
// outgoing Message-IDs, and other values with no natural provider-assigned
// key.
func New() string {
	return uuid.NewString()
}

// MailMessageID builds the composite "folder|uid" identifier IMAP callers
// use to address a single message, mirroring the mailbox|uid encoding an
// IMAP UID is only unique within.
func MailMessageID(folder string, uid uint32) string {
	return fmt.Sprintf("%s|%d", folder, uid)
}

// ParseMailMessageID splits a composite id produced by MailMessageID back
// into its folder and UID.
func ParseMailMessageID(id string) (folder string, uid uint32, err error) {
	idx := strings.LastIndex(id, "|")
	if idx < 0 {
		return "", 0, fmt.Errorf("ids: malformed mail message id %q", id)
	}
	folder = id[:idx]
	n, err := strconv.ParseUint(id[idx+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("ids: malformed mail message id %q: %w", id, err)
	}
	return folder, uint32(n), nil
}

// AttachmentID builds a deterministic identifier for the nth attachment
// part of a message, so re-parsing the same raw RFC822 body for a lazy
// get_attachment download reproduces the same id the initial sync stored,
// rather than a fresh random one that would never match.
func AttachmentID(index int, filename string) string {
	return fmt.Sprintf("%d|%s", index, filename)
}

// CalendarEventID builds the composite "calendarID|eventUID" identifier
// used to address a calendar event, since a CalDAV UID is only unique
// within its owning collection.
func CalendarEventID(calendarID, eventUID string) string {
	return fmt.Sprintf("%s|%s", calendarID, eventUID)
}

// ParseCalendarEventID splits a composite id produced by CalendarEventID
// back into its calendar id and event UID.
func ParseCalendarEventID(id string) (calendarID, eventUID string, err error) {
	idx := strings.LastIndex(id, "|")
	if idx < 0 {
		return "", "", fmt.Errorf("ids: malformed calendar event id %q", id)
	}
	return id[:idx], id[idx+1:], nil
}
