package models

import "time"

// ItemKind distinguishes the two concrete item types a search/list result
// can hold, per the search engine's "Polymorphism over mail/calendar" design
// note: callers that want one ranked list across both domains work against
// Item rather than switching on concrete types themselves.
type ItemKind string

const (
	ItemKindMail     ItemKind = "mail"
	ItemKindCalendar ItemKind = "calendar"
)

// Item is the common surface HybridSearcher ranks over. A MailItem and a
// CalendarItem both satisfy it so search results can interleave the two
// without the searcher needing to know their internal shapes.
type Item interface {
	ItemKind() ItemKind
	ItemID() int64
	ItemAccountID() string
	ItemEmbedding() []float32
	ItemSyncedAt() time.Time
}

func (m MailItem) ItemKind() ItemKind        { return ItemKindMail }
func (m MailItem) ItemID() int64             { return m.ID }
func (m MailItem) ItemAccountID() string     { return m.AccountID }
func (m MailItem) ItemEmbedding() []float32  { return m.Embedding }
func (m MailItem) ItemSyncedAt() time.Time   { return m.SyncedAt }

func (c CalendarItem) ItemKind() ItemKind       { return ItemKindCalendar }
func (c CalendarItem) ItemID() int64            { return c.ID }
func (c CalendarItem) ItemAccountID() string    { return c.AccountID }
func (c CalendarItem) ItemEmbedding() []float32 { return c.Embedding }
func (c CalendarItem) ItemSyncedAt() time.Time  { return c.SyncedAt }
