package models

import "time"

// EmbeddingDimension is the fixed width of every stored embedding vector,
// for both mail items and calendar items.
const EmbeddingDimension = 768

// Address is a single mail participant.
type Address struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// Attachment describes one MIME part attached to a MailItem. Content is
// fetched lazily; LocalPath is empty until a get_attachment call downloads it.
type Attachment struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	MIMEType  string `json:"mime_type"`
	Size      int64  `json:"size"`
	ContentID string `json:"content_id,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
}

// MailItem is one mirrored mail message.
type MailItem struct {
	ID              int64        `json:"id"`
	AccountID       string       `json:"account_id"`
	ProviderMsgID   uint64       `json:"provider_message_id"`
	ProviderThreadID uint64      `json:"provider_thread_id"`
	MessageID       string       `json:"message_id"` // RFC 5322 Message-ID
	Folder          string       `json:"folder"`
	UID             uint32       `json:"uid"`
	UIDValidity     uint32       `json:"uid_validity"`
	InReplyTo       string       `json:"in_reply_to,omitempty"`
	References      []string     `json:"references,omitempty"`
	Labels          []string     `json:"labels,omitempty"`
	Flags           []string     `json:"flags,omitempty"`
	From            Address      `json:"from"`
	To              []Address    `json:"to,omitempty"`
	Cc              []Address    `json:"cc,omitempty"`
	Bcc             []Address    `json:"bcc,omitempty"`
	Subject         string       `json:"subject"`
	Date            time.Time    `json:"date"`
	BodyText        string       `json:"body_text"`
	BodyHTML        string       `json:"body_html,omitempty"`
	Snippet         string       `json:"snippet"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	Embedding       []float32    `json:"-"`
	NeedsReembed    bool         `json:"-"`
	SyncedAt        time.Time    `json:"synced_at"`
	RawSize         int64        `json:"raw_size"`
}

// HasAttachments reports whether the item carries at least one attachment,
// used by the mail-item result envelope's has_attachments field.
func (m MailItem) HasAttachments() bool {
	return len(m.Attachments) > 0
}

// TruncateSnippet caps s at n characters for the stable ≤200-char snippet
// field; it never splits a UTF-8 rune.
func TruncateSnippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
