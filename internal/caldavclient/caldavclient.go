// Package caldavclient adapts a single Google Calendar account to the sync
// orchestrator's provider-adapter interface over CalDAV (RFC 4791) with
// sync-collection delta reports (RFC 6578) and iCalendar (RFC 5545)
// payloads, through github.com/emersion/go-webdav/caldav and
// github.com/emersion/go-ical.
package caldavclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/jamiequint/groundeffect/internal/models"
)

// defaultWindow is the time-range query width used when a calendar's
// initial sync has no stored sync-token yet, mirroring the 90-day default
// the priming window also uses for mail.
const defaultWindow = 90 * 24 * time.Hour

// TokenSource returns the current valid OAuth2 bearer token for the
// account's CalDAV endpoint.
type TokenSource func(ctx context.Context) (string, error)

// bearerTransport injects an OAuth2 bearer token into every request,
// refreshing it lazily per call so a long-lived Client survives token
// rotation without being reconstructed.
type bearerTransport struct {
	base   http.RoundTripper
	tokens TokenSource
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.tokens(req.Context())
	if err != nil {
		return nil, err
	}
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "Bearer "+token)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req2)
}

// Config identifies the account's CalDAV endpoint.
type Config struct {
	Endpoint string // e.g. https://apidata.googleusercontent.com/caldav/v2
	Username string
}

// Client wraps a caldav.Client bound to one account's bearer-token
// transport.
type Client struct {
	cfg Config
	dav *caldav.Client
}

// New constructs a Client for one account.
func New(cfg Config, tokens TokenSource) (*Client, error) {
	httpClient := &http.Client{
		Transport: &bearerTransport{tokens: tokens},
		Timeout:   30 * time.Second,
	}
	dav, err := caldav.NewClient(webdav.HTTPClientWithBasicAuth(httpClient, "", ""), cfg.Endpoint)
	if err != nil {
		return nil, models.Fatal("construct CalDAV client", err)
	}
	return &Client{cfg: cfg, dav: dav}, nil
}

// Calendar is one discovered calendar collection.
type Calendar struct {
	Path        string
	Name        string
	Description string
}

// ListCalendars discovers every calendar collection in the account's
// calendar-home-set.
func (c *Client) ListCalendars(ctx context.Context) ([]Calendar, error) {
	principal, err := c.dav.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return nil, models.Transient("find current user principal", err)
	}
	homeSet, err := c.dav.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, models.Transient("find calendar home set", err)
	}
	cals, err := c.dav.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, models.Transient("find calendars", err)
	}

	out := make([]Calendar, 0, len(cals))
	for _, cal := range cals {
		out = append(out, Calendar{Path: cal.Path, Name: cal.Name, Description: cal.Description})
	}
	return out, nil
}

// EventObject is one fetched calendar object: its CalDAV identity (ETag,
// path) plus the parsed iCalendar payload.
type EventObject struct {
	Path string
	ETag string
	Data *ical.Calendar
}

// DeltaResult is the outcome of one sync-collection pass: changed/new
// objects, hrefs the server reports removed, and the token to store for
// next time.
type DeltaResult struct {
	Changed      []EventObject
	RemovedPaths []string
	SyncToken    string
}

// SyncDelta performs an RFC 6578 sync-collection REPORT against calendarPath.
// An empty syncToken requests a full initial sync. A response rejecting the
// request or its token (HTTP 403 or 409) is returned as a nil DeltaResult
// with a nil error; any other failure is returned as models.Transient.
func (c *Client) SyncDelta(ctx context.Context, calendarPath, syncToken string) (*DeltaResult, error) {
	query := &caldav.SyncQuery{
		SyncToken:  syncToken,
		SyncLevel:  "1",
		CompRequest: caldav.CalendarCompRequest{
			Name:           "VCALENDAR",
			AllProps:       true,
			AllComps:       true,
		},
	}

	resp, err := c.dav.SyncCollection(ctx, calendarPath, query)
	if err != nil {
		if isInvalidSyncToken(err) {
			return nil, nil
		}
		return nil, models.Transient("sync-collection report", err)
	}

	result := &DeltaResult{SyncToken: resp.SyncToken}
	for _, obj := range resp.Updated {
		result.Changed = append(result.Changed, EventObject{
			Path: obj.Path,
			ETag: obj.ETag,
			Data: obj.Data,
		})
	}
	result.RemovedPaths = append(result.RemovedPaths, resp.Deleted...)
	return result, nil
}

func isInvalidSyncToken(err error) bool {
	var httpErr *webdav.HTTPError
	if asHTTPError(err, &httpErr) {
		return httpErr.Code == http.StatusForbidden || httpErr.Code == http.StatusConflict
	}
	return false
}

func asHTTPError(err error, target **webdav.HTTPError) bool {
	for err != nil {
		if e, ok := err.(*webdav.HTTPError); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// QueryRange fetches every event overlapping [start, end) in calendarPath,
// splitting the request into defaultWindow-sized sub-ranges so a single
// REPORT never asks the server for an unbounded result set.
func (c *Client) QueryRange(ctx context.Context, calendarPath string, start, end time.Time) ([]EventObject, error) {
	var out []EventObject
	cursor := start
	for cursor.Before(end) {
		windowEnd := cursor.Add(defaultWindow)
		if windowEnd.After(end) {
			windowEnd = end
		}

		objs, err := c.queryWindow(ctx, calendarPath, cursor, windowEnd)
		if err != nil {
			return out, err
		}
		out = append(out, objs...)
		cursor = windowEnd
	}
	return out, nil
}

func (c *Client) queryWindow(ctx context.Context, calendarPath string, start, end time.Time) ([]EventObject, error) {
	query := &caldav.CalendarQuery{
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: start,
				End:   end,
			}},
		},
	}

	objs, err := c.dav.QueryCalendar(ctx, calendarPath, query)
	if err != nil {
		if isInsufficientStorage(err) && end.Sub(start) > time.Hour {
			mid := start.Add(end.Sub(start) / 2)
			first, firstErr := c.queryWindow(ctx, calendarPath, start, mid)
			if firstErr != nil {
				return nil, firstErr
			}
			second, secondErr := c.queryWindow(ctx, calendarPath, mid, end)
			if secondErr != nil {
				return first, secondErr
			}
			return append(first, second...), nil
		}
		return nil, models.Transient("calendar-query report", err)
	}

	out := make([]EventObject, 0, len(objs))
	for _, obj := range objs {
		out = append(out, EventObject{Path: obj.Path, ETag: obj.ETag, Data: obj.Data})
	}
	return out, nil
}

func isInsufficientStorage(err error) bool {
	var httpErr *webdav.HTTPError
	if asHTTPError(err, &httpErr) {
		return httpErr.Code == http.StatusInsufficientStorage
	}
	return false
}

// PutEvent creates or updates the event at path. If etag is non-empty the
// write carries an If-Match precondition, so a concurrent server-side
// change is reported as a conflict instead of silently overwritten.
func (c *Client) PutEvent(ctx context.Context, path, etag string, cal *ical.Calendar) (*EventObject, error) {
	var opts *caldav.PutCalendarObjectOptions
	if etag != "" {
		opts = &caldav.PutCalendarObjectOptions{IfMatch: webdav.ConditionalMatch(etag)}
	} else {
		opts = &caldav.PutCalendarObjectOptions{IfNoneMatch: webdav.ConditionalMatch("*")}
	}

	obj, err := c.dav.PutCalendarObject(ctx, path, cal, opts)
	if err != nil {
		return nil, models.Transient(fmt.Sprintf("put calendar object %s", path), err)
	}
	return &EventObject{Path: obj.Path, ETag: obj.ETag, Data: cal}, nil
}

// DeleteEvent removes the event at path, requiring etag to still match so
// a stale delete-event call cannot remove a version the user has since
// edited elsewhere.
func (c *Client) DeleteEvent(ctx context.Context, path, etag string) error {
	opts := &caldav.DeleteCalendarObjectOptions{IfMatch: webdav.ConditionalMatch(etag)}
	if err := c.dav.DeleteCalendarObject(ctx, path, opts); err != nil {
		return models.Transient(fmt.Sprintf("delete calendar object %s", path), err)
	}
	return nil
}

// GetEvent fetches a single event by path, used to resolve a recurring
// master's full payload when a sync-collection response omits
// calendar-data and only reports the changed href.
func (c *Client) GetEvent(ctx context.Context, path string) (*EventObject, error) {
	obj, err := c.dav.GetCalendarObject(ctx, path)
	if err != nil {
		return nil, models.Transient(fmt.Sprintf("get calendar object %s", path), err)
	}
	return &EventObject{Path: obj.Path, ETag: obj.ETag, Data: obj.Data}, nil
}
