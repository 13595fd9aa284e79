// Package ingest turns a raw provider-fetched message or event into a
// committed store row: it normalizes the body text, derives a thread id,
// truncates a snippet, and (in a separate pass) attaches an embedding
// vector. Each stage is grounded on Vertex-embedding and db.go patterns
// but restructured around the engine's mail/calendar domain.
package ingest

import (
	"context"
	"hash/fnv"

	"github.com/jamiequint/groundeffect/internal/embedder"
	"github.com/jamiequint/groundeffect/internal/htmltotext"
	"github.com/jamiequint/groundeffect/internal/models"
	"github.com/jamiequint/groundeffect/internal/store"
)

// snippetLen is the fixed snippet width surfaced in search result envelopes.
const snippetLen = 200

// embedBatchSize caps how many pending items the embed stage pulls per call.
const embedBatchSize = 100

// Pipeline wires together everything the sync orchestrator needs to turn a
// fetched message or event into a searchable row.
type Pipeline struct {
	writer *store.Writer
	model  embedder.Model
}

// New builds a Pipeline over a writer and an embedding model.
func New(writer *store.Writer, model embedder.Model) *Pipeline {
	return &Pipeline{writer: writer, model: model}
}

// IngestMail normalizes and commits one mail item. The caller has already
// populated every IMAP-derived field (folder, UID, envelope, flags); this
// stage fills in BodyText (from HTML if needed), Snippet, and
// ProviderThreadID before handing off to the store.
func (p *Pipeline) IngestMail(ctx context.Context, m models.MailItem) (int64, error) {
	if m.BodyText == "" && m.BodyHTML != "" {
		text, err := htmltotext.Extract(m.BodyHTML)
		if err != nil {
			return 0, models.Poison("extract HTML body", err)
		}
		m.BodyText = text
	}
	m.Snippet = models.TruncateSnippet(m.BodyText, snippetLen)

	threadID, err := p.resolveThreadID(m)
	if err != nil {
		return 0, err
	}
	m.ProviderThreadID = threadID

	return p.writer.UpsertMailItem(m)
}

// resolveThreadID derives a stable thread id from the RFC 5322 reference
// chain, since go-imap/v2 exposes no typed field for Gmail's X-GM-THRID
// extension. If In-Reply-To or References name a message already stored,
// the new item inherits that message's thread id; otherwise a fresh id is
// derived from this message's own Message-ID.
func (p *Pipeline) resolveThreadID(m models.MailItem) (uint64, error) {
	candidates := make([]string, 0, len(m.References)+1)
	if m.InReplyTo != "" {
		candidates = append(candidates, m.InReplyTo)
	}
	candidates = append(candidates, m.References...)

	for _, ref := range candidates {
		existing, err := p.writer.GetMailItemByMessageID(m.AccountID, ref)
		if err == nil {
			return existing.ProviderThreadID, nil
		}
		if models.KindOf(err) != models.KindNotFound {
			return 0, err
		}
	}

	seed := m.MessageID
	if seed == "" {
		seed = m.AccountID + "|" + m.Subject
	}
	return hashThreadSeed(seed), nil
}

func hashThreadSeed(seed string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	return h.Sum64()
}

// IngestCalendar commits one calendar item to the store as given.
func (p *Pipeline) IngestCalendar(ctx context.Context, c models.CalendarItem) (int64, error) {
	return p.writer.UpsertCalendarItem(c)
}

// EmbedPending pulls items flagged needs_reembed, embeds them in one Vertex
// AI batch call per item type, and writes the resulting vectors back.
// Mirrors the teacher's batched-embed-then-upsert shape but is driven by a
// persistent queue instead of a one-shot directory walk.
func (p *Pipeline) EmbedPending(ctx context.Context) (mailCount, calendarCount int, err error) {
	mailCount, err = p.embedPendingMail(ctx)
	if err != nil {
		return mailCount, 0, err
	}
	calendarCount, err = p.embedPendingCalendar(ctx)
	return mailCount, calendarCount, err
}

func (p *Pipeline) embedPendingMail(ctx context.Context) (int, error) {
	pending, err := p.writer.PendingMailEmbeddings(embedBatchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	texts := make([]string, len(pending))
	for i, item := range pending {
		texts[i] = item.Text
	}
	vectors, err := p.model.Embed(ctx, texts, embedder.TaskTypeRetrievalDocument)
	if err != nil {
		return 0, err
	}
	for i, item := range pending {
		if err := p.writer.UpsertMailEmbedding(item.ID, vectors[i], modelName(p.model)); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

func (p *Pipeline) embedPendingCalendar(ctx context.Context) (int, error) {
	pending, err := p.writer.PendingCalendarEmbeddings(embedBatchSize)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	texts := make([]string, len(pending))
	for i, item := range pending {
		texts[i] = item.Text
	}
	vectors, err := p.model.Embed(ctx, texts, embedder.TaskTypeRetrievalDocument)
	if err != nil {
		return 0, err
	}
	for i, item := range pending {
		if err := p.writer.UpsertCalendarEmbedding(item.ID, vectors[i], modelName(p.model)); err != nil {
			return i, err
		}
	}
	return len(pending), nil
}

// modelName extracts a label for embedding_meta.model. VertexModel is the
// engine's only implementation; anything else (test fakes) is labeled generically.
func modelName(m embedder.Model) string {
	if vm, ok := m.(interface{ Name() string }); ok {
		return vm.Name()
	}
	return "unknown"
}
