// Package mcpserver implements the tool-call surface groundeffect-query
// exposes over stdio: the 20 named tools in SPEC_FULL.md §6 (search_mail
// through get_attachment). It holds a read-only store.Reader, a
// search.Searcher, and a mutation.Router, and maps each tool call onto
// those components, returning either a result or a models.Error so the
// binary's mcp-go glue can shape the {error:{code,message,action}} envelope
// uniformly across every tool.
package mcpserver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jamiequint/groundeffect/internal/ids"
	"github.com/jamiequint/groundeffect/internal/mailparse"
	"github.com/jamiequint/groundeffect/internal/models"
	"github.com/jamiequint/groundeffect/internal/mutation"
	"github.com/jamiequint/groundeffect/internal/search"
	"github.com/jamiequint/groundeffect/internal/store"
	"github.com/jamiequint/groundeffect/internal/sync"
)

// bodyTruncationDefault mirrors config.defaultBodyTruncationChars; kept as
// a fallback so a Server built without an explicit value still truncates.
const bodyTruncationDefault = 40000

// Server dispatches every tool-call operation against the shared store,
// which holds every configured account.
type Server struct {
	Reader   *store.Reader
	Searcher *search.Searcher
	Router   *mutation.Router
	Poison   *sync.PoisonSet
	WakeDir  string
	DataDir  string

	AttachmentMaxSizeMB int
	BodyTruncationChars int

	// MailFetcher constructs a fresh attachment-fetch client per account,
	// reusing the same factory shape internal/sync and internal/mutation use.
	MailFetcher func(accountID string) AttachmentFetchSource
}

// AttachmentFetchSource is the subset of imapclient.Client get_attachment needs.
type AttachmentFetchSource interface {
	Connect(ctx context.Context) error
	FetchBodiesBatch(ctx context.Context, mailbox string, uids []uint32) ([]FetchedMessage, error)
	Close(ctx context.Context) error
}

// FetchedMessage is the (uid, raw bytes) pair get_attachment needs from a
// FetchBodiesBatch call.
type FetchedMessage struct {
	UID    uint32
	RFC822 []byte
}

func (s *Server) bodyLimit() int {
	if s.BodyTruncationChars > 0 {
		return s.BodyTruncationChars
	}
	return bodyTruncationDefault
}

// Address is the stable envelope shape for a mail participant.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// MailEnvelope is the stable result shape every mail-returning tool emits,
// per SPEC_FULL.md §6's mail-item result envelope.
type MailEnvelope struct {
	ID              int64     `json:"id"`
	AccountID       string    `json:"account_id"`
	AccountAlias    string    `json:"account_alias"`
	MessageID       string    `json:"message_id"`
	ThreadID        uint64    `json:"thread_id"`
	From            Address   `json:"from"`
	To              []Address `json:"to,omitempty"`
	Cc              []Address `json:"cc,omitempty"`
	Subject         string    `json:"subject"`
	Date            time.Time `json:"date"`
	Snippet         string    `json:"snippet"`
	HasAttachments  bool      `json:"has_attachments"`
	Labels          []string  `json:"labels,omitempty"`
	Score           *float64  `json:"score,omitempty"`
	Truncated       *bool     `json:"truncated,omitempty"`
	TotalBodyChars  *int      `json:"total_body_chars,omitempty"`
	BodyText        string    `json:"body_text,omitempty"`
	Attachments     []models.Attachment `json:"attachments,omitempty"`
}

func addressList(in []models.Address) []Address {
	if len(in) == 0 {
		return nil
	}
	out := make([]Address, len(in))
	for i, a := range in {
		out[i] = Address{Name: a.Name, Email: a.Email}
	}
	return out
}

// toMailEnvelope builds the stable envelope for item. withBody includes the
// (possibly truncated) body text, for get_mail/get_thread; search results
// omit it, carrying only the snippet.
func (s *Server) toMailEnvelope(item models.MailItem, alias string, score *float64, withBody bool) MailEnvelope {
	env := MailEnvelope{
		ID:             item.ID,
		AccountID:      item.AccountID,
		AccountAlias:   alias,
		MessageID:      item.MessageID,
		ThreadID:       item.ProviderThreadID,
		From:           Address{Name: item.From.Name, Email: item.From.Email},
		To:             addressList(item.To),
		Cc:             addressList(item.Cc),
		Subject:        item.Subject,
		Date:           item.Date.UTC(),
		Snippet:        item.Snippet,
		HasAttachments: item.HasAttachments(),
		Labels:         item.Labels,
		Score:          score,
	}
	if withBody {
		total := len([]rune(item.BodyText))
		truncated := total > s.bodyLimit()
		env.BodyText = models.TruncateSnippet(item.BodyText, s.bodyLimit())
		env.Truncated = &truncated
		env.TotalBodyChars = &total
		env.Attachments = item.Attachments
	}
	return env
}

// CalendarEnvelope is the stable result shape every calendar-returning tool emits.
type CalendarEnvelope struct {
	ID             int64              `json:"id"`
	AccountID      string             `json:"account_id"`
	AccountAlias   string             `json:"account_alias"`
	CalendarID     string             `json:"calendar_id"`
	UID            string             `json:"uid"`
	ETag           string             `json:"etag"`
	Summary        string             `json:"summary"`
	Description    string             `json:"description,omitempty"`
	Location       string             `json:"location,omitempty"`
	Start          time.Time          `json:"start"`
	End            time.Time          `json:"end"`
	AllDay         bool               `json:"all_day"`
	Status         models.EventStatus `json:"status"`
	Attendees      []models.Attendee  `json:"attendees,omitempty"`
	Score          *float64           `json:"score,omitempty"`
}

func (s *Server) toCalendarEnvelope(item models.CalendarItem, alias string, score *float64) CalendarEnvelope {
	return CalendarEnvelope{
		ID:           item.ID,
		AccountID:    item.AccountID,
		AccountAlias: alias,
		CalendarID:   item.CalendarID,
		UID:          item.UID,
		ETag:         item.ETag,
		Summary:      item.Summary,
		Description:  item.Description,
		Location:     item.Location,
		Start:        item.Start.UTC(),
		End:          item.End.UTC(),
		AllDay:       item.AllDay,
		Status:       item.Status,
		Attendees:    item.Attendees,
		Score:        score,
	}
}

func (s *Server) aliasFor(accountID string) string {
	account, err := s.Reader.GetAccount(accountID)
	if err != nil {
		return accountID
	}
	return account.CanonicalOrAlias()
}

// --- Read tools ---

// SearchMail implements search_mail.
func (s *Server) SearchMail(ctx context.Context, query string, filter search.Filter) ([]MailEnvelope, search.MailResult, error) {
	result, err := s.Searcher.SearchMail(ctx, query, filter)
	if err != nil {
		return nil, search.MailResult{}, err
	}
	out := make([]MailEnvelope, 0, len(result.Hits))
	for _, hit := range result.Hits {
		var score *float64
		if hit.Score != 0 {
			v := hit.Score
			score = &v
		}
		out = append(out, s.toMailEnvelope(hit.Item, s.aliasFor(hit.Item.AccountID), score, false))
	}
	return out, result, nil
}

// SearchCalendar implements search_calendar.
func (s *Server) SearchCalendar(ctx context.Context, query string, filter search.Filter) ([]CalendarEnvelope, search.CalendarResult, error) {
	result, err := s.Searcher.SearchCalendar(ctx, query, filter)
	if err != nil {
		return nil, search.CalendarResult{}, err
	}
	out := make([]CalendarEnvelope, 0, len(result.Hits))
	for _, hit := range result.Hits {
		var score *float64
		if hit.Score != 0 {
			v := hit.Score
			score = &v
		}
		out = append(out, s.toCalendarEnvelope(hit.Item, s.aliasFor(hit.Item.AccountID), score))
	}
	return out, result, nil
}

// GetMail implements get_mail, by internal row id.
func (s *Server) GetMail(id int64) (MailEnvelope, error) {
	item, err := s.Reader.GetMailItem(id)
	if err != nil {
		return MailEnvelope{}, err
	}
	return s.toMailEnvelope(item, s.aliasFor(item.AccountID), nil, true), nil
}

// GetThread implements get_thread.
func (s *Server) GetThread(accountID string, threadID uint64) ([]MailEnvelope, error) {
	items, err := s.Reader.GetThread(accountID, threadID)
	if err != nil {
		return nil, err
	}
	alias := s.aliasFor(accountID)
	out := make([]MailEnvelope, 0, len(items))
	for _, item := range items {
		out = append(out, s.toMailEnvelope(item, alias, nil, true))
	}
	return out, nil
}

// GetEvent implements get_event.
func (s *Server) GetEvent(id int64) (CalendarEnvelope, error) {
	item, err := s.Reader.GetCalendarItem(id)
	if err != nil {
		return CalendarEnvelope{}, err
	}
	return s.toCalendarEnvelope(item, s.aliasFor(item.AccountID), nil), nil
}

// ListFolders implements list_folders.
func (s *Server) ListFolders(accountID string) ([]string, error) {
	return s.Reader.ListFolders(accountID)
}

// ListCalendars implements list_calendars.
func (s *Server) ListCalendars(accountID string) ([]string, error) {
	return s.Reader.ListCalendars(accountID)
}

// ListAccounts implements list_accounts.
func (s *Server) ListAccounts() ([]models.Account, error) {
	return s.Reader.ListAccounts()
}

// SyncStatus is the per-account detail get_sync_status returns.
type SyncStatus struct {
	Email            string              `json:"email"`
	Alias            string              `json:"alias,omitempty"`
	Status           models.AccountStatus `json:"status"`
	LastEmailSync    time.Time           `json:"last_email_sync,omitempty"`
	LastCalendarSync time.Time           `json:"last_calendar_sync,omitempty"`
	PoisonCount      int                 `json:"poison_count"`
}

// GetSyncStatus implements get_sync_status. Current backoff level is
// in-memory daemon state with no store representation, so it is omitted
// here rather than guessed at from this process.
func (s *Server) GetSyncStatus() ([]SyncStatus, error) {
	accounts, err := s.Reader.ListAccounts()
	if err != nil {
		return nil, err
	}
	poisonCount := 0
	if s.Poison != nil {
		if n, err := s.Poison.Count(); err == nil {
			poisonCount = n
		}
	}
	out := make([]SyncStatus, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, SyncStatus{
			Email:            a.Email,
			Alias:            a.Alias,
			Status:           a.Status,
			LastEmailSync:    a.LastEmailSync,
			LastCalendarSync: a.LastCalendarSync,
			PoisonCount:      poisonCount,
		})
	}
	return out, nil
}

// --- Mutation tools ---

// SendMail implements send_mail. confirm=false returns a preview of the
// rendered RFC 5322 message without contacting the provider.
func (s *Server) SendMail(req mutation.SendMailRequest, confirm bool) ([]byte, error) {
	if !confirm {
		return s.Router.Preview(req), nil
	}
	return s.Router.SendMail(context.Background(), req)
}

// CreateEvent implements create_event. confirm=false returns the rendered
// iCalendar text without contacting the provider.
func (s *Server) CreateEvent(ctx context.Context, accountID, calendarPath, path string, fields mutation.EventFields, confirm bool) (models.CalendarItem, []byte, error) {
	if !confirm {
		return models.CalendarItem{}, mutation.RenderEventText(fields), nil
	}
	cal, err := mutation.BuildEventCalendar(fields)
	if err != nil {
		return models.CalendarItem{}, nil, err
	}
	item, err := s.Router.CreateEvent(ctx, accountID, calendarPath, path, cal)
	return item, nil, err
}

// UpdateEvent implements update_event.
func (s *Server) UpdateEvent(ctx context.Context, accountID, calendarPath, path, etag string, fields mutation.EventFields, confirm bool) (models.CalendarItem, []byte, error) {
	if !confirm {
		return models.CalendarItem{}, mutation.RenderEventText(fields), nil
	}
	cal, err := mutation.BuildEventCalendar(fields)
	if err != nil {
		return models.CalendarItem{}, nil, err
	}
	item, err := s.Router.UpdateEvent(ctx, accountID, calendarPath, path, etag, cal)
	return item, nil, err
}

// DeleteEvent implements delete_event.
func (s *Server) DeleteEvent(ctx context.Context, accountID, calendarPath, path, etag string) error {
	return s.Router.DeleteEvent(ctx, accountID, calendarPath, path, etag)
}

// MarkRead implements mark_read/mark_unread, selected by the read flag.
func (s *Server) MarkRead(ctx context.Context, accountID, folder string, uid uint32, read bool) error {
	return s.Router.MarkRead(ctx, accountID, folder, uid, read)
}

// Archive implements archive.
func (s *Server) Archive(ctx context.Context, accountID, folder string, uid uint32, archiveMailbox string) error {
	return s.Router.Archive(ctx, accountID, folder, uid, archiveMailbox)
}

// MoveMail implements move_mail.
func (s *Server) MoveMail(ctx context.Context, accountID, folder string, uid uint32, destMailbox string) error {
	return s.Router.MoveMail(ctx, accountID, folder, uid, destMailbox)
}

// DeleteMail implements delete_mail.
func (s *Server) DeleteMail(ctx context.Context, accountID, folder string, uid uint32) error {
	return s.Router.DeleteMail(ctx, accountID, folder, uid)
}

// TriggerSync implements trigger_sync: a manual wake signal adapted from
// the spec's single-process "non-blocking channel send" wording to a
// touched file, since the query server and daemon are separate processes
// sharing only the store and this directory. Repeated calls before the
// daemon observes the first are a no-op beyond advancing the file's mtime.
func (s *Server) TriggerSync(accountID string) error {
	return sync.RequestWake(s.WakeDir, accountID)
}

// GetAttachment implements get_attachment: a lazy fetch of one MIME part
// the store never persisted, re-parsing the same raw message the initial
// sync saw and caching the result under DataDir/attachments.
func (s *Server) GetAttachment(ctx context.Context, mailItemID int64, attachmentID string) (models.Attachment, error) {
	item, err := s.Reader.GetMailItem(mailItemID)
	if err != nil {
		return models.Attachment{}, err
	}

	var meta models.Attachment
	found := false
	for _, a := range item.Attachments {
		if a.ID == attachmentID {
			meta = a
			found = true
			break
		}
	}
	if !found {
		return models.Attachment{}, models.NotFound("attachment not found: "+attachmentID, nil)
	}

	maxBytes := int64(s.AttachmentMaxSizeMB) * 1024 * 1024
	if maxBytes > 0 && meta.Size > maxBytes {
		return models.Attachment{}, models.Validation(
			fmt.Sprintf("attachment %s is %d bytes, over the %dMB limit", meta.Filename, meta.Size, s.AttachmentMaxSizeMB), nil)
	}

	if s.MailFetcher == nil {
		return models.Attachment{}, models.Fatal("get_attachment: no mail fetch source configured", nil)
	}
	client := s.MailFetcher(item.AccountID)
	if err := client.Connect(ctx); err != nil {
		return models.Attachment{}, err
	}
	defer client.Close(ctx)

	msgs, err := client.FetchBodiesBatch(ctx, item.Folder, []uint32{item.UID})
	if err != nil {
		return models.Attachment{}, err
	}
	if len(msgs) == 0 {
		return models.Attachment{}, models.NotFound("message no longer present on server", nil)
	}

	filename, mimeType, data, err := mailparse.ExtractAttachment(msgs[0].RFC822, attachmentID)
	if err != nil {
		return models.Attachment{}, err
	}

	dir := filepath.Join(s.DataDir, "attachments", item.AccountID, ids.MailMessageID(item.Folder, item.UID))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return models.Attachment{}, models.Fatal("create attachment directory", err)
	}
	localPath := filepath.Join(dir, sanitizeFilename(filename))
	if err := os.WriteFile(localPath, data, 0o600); err != nil {
		return models.Attachment{}, models.Fatal("write attachment", err)
	}

	meta.MIMEType = mimeType
	meta.Size = int64(len(data))
	meta.LocalPath = localPath
	return meta, nil
}

func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")
	if name == "" {
		return "attachment"
	}
	return name
}
