// Package search implements the HybridSearcher: a keyword (BM25) ranking
// and a vector (cosine/ANN) ranking over the same filtered candidate set,
// fused by Reciprocal Rank Fusion into one ordered result list.
//
// Grounded on diane-assistant-diane's files.SearchFiles/VectorSearch split
// (query the keyword index and the vector index separately, both under a
// shared WHERE predicate) — RRF fusion itself has no precedent in the
// example pack and is implemented here as a small pure function.
package search

import (
	"context"
	"sort"
	"time"

	"github.com/jamiequint/groundeffect/internal/embedder"
	"github.com/jamiequint/groundeffect/internal/models"
	"github.com/jamiequint/groundeffect/internal/store"
)

// rrfK is the Reciprocal Rank Fusion smoothing constant: score(d) = 1/(k+rank(d)).
const rrfK = 60

// candidatePoolFactor sizes each side's sub-query: max(limit*candidatePoolFactor, candidatePoolFloor).
const candidatePoolFactor = 4
const candidatePoolFloor = 100

// Filter narrows a search to a set of accounts and structured predicates.
// Accounts may be canonical addresses or aliases; an empty slice means
// search every account.
type Filter struct {
	Accounts      []string
	Since         time.Time
	Until         time.Time
	Folder        string
	FromContains  string
	HasAttachment bool
	CalendarID    string
	Limit         int
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return 10
	}
	if f.Limit > 100 {
		return 100
	}
	return f.Limit
}

func (f Filter) poolSize() int {
	pool := f.limit() * candidatePoolFactor
	if pool < candidatePoolFloor {
		pool = candidatePoolFloor
	}
	return pool
}

// MailHit pairs a mail item with its fused RRF score. Searcher does not
// fill in AccountAlias; it is always empty.
type MailHit struct {
	Item         models.MailItem
	AccountAlias string
	Score        float64
}

// MailResult is the outcome of one SearchMail call.
type MailResult struct {
	Hits             []MailHit
	AccountsSearched []string
	CandidateCount   int
	Degraded         bool
	Elapsed          time.Duration
}

// CalendarHit pairs a calendar item with its fused RRF score.
type CalendarHit struct {
	Item         models.CalendarItem
	AccountAlias string
	Score        float64
}

// CalendarResult is the outcome of one SearchCalendar call.
type CalendarResult struct {
	Hits             []CalendarHit
	AccountsSearched []string
	CandidateCount   int
	Degraded         bool
	Elapsed          time.Duration
}

// Searcher implements HybridSearcher against one Reader.
type Searcher struct {
	reader *store.Reader
	model  embedder.Model
}

// New constructs a Searcher.
func New(reader *store.Reader, model embedder.Model) *Searcher {
	return &Searcher{reader: reader, model: model}
}

// resolveAccounts maps aliases and canonical addresses in requested to
// canonical email addresses, rejecting any name the accounts table does
// not recognise.
func (s *Searcher) resolveAccounts(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, nil
	}
	accounts, err := s.reader.ListAccounts()
	if err != nil {
		return nil, err
	}
	byAlias := make(map[string]string, len(accounts)*2)
	for _, a := range accounts {
		byAlias[a.Email] = a.Email
		if a.Alias != "" {
			byAlias[a.Alias] = a.Email
		}
	}
	resolved := make([]string, 0, len(requested))
	for _, name := range requested {
		email, ok := byAlias[name]
		if !ok {
			return nil, models.Validation("unknown account alias "+name, nil)
		}
		resolved = append(resolved, email)
	}
	return resolved, nil
}

// SearchMail runs the HybridSearcher algorithm over mail items.
func (s *Searcher) SearchMail(ctx context.Context, query string, filter Filter) (MailResult, error) {
	start := time.Now()
	accounts, err := s.resolveAccounts(filter.Accounts)
	if err != nil {
		return MailResult{}, err
	}

	storeFilter := store.MailFilter{
		Folder:        filter.Folder,
		Since:         filter.Since,
		Until:         filter.Until,
		FromContains:  filter.FromContains,
		HasAttachment: filter.HasAttachment,
		Limit:         filter.poolSize(),
	}

	if query == "" {
		items, err := s.listMailAcrossAccounts(storeFilter, accounts, filter.limit())
		if err != nil {
			return MailResult{}, err
		}
		hits := make([]MailHit, 0, len(items))
		for _, item := range items {
			hits = append(hits, MailHit{Item: item})
		}
		return MailResult{Hits: hits, AccountsSearched: filter.Accounts, CandidateCount: len(items), Elapsed: time.Since(start)}, nil
	}

	keyword, keywordErr := s.rankedMailAcrossAccounts(storeFilter, accounts, func(f store.MailFilter) ([]store.RankedMailItem, error) {
		return s.reader.SearchKeywordMail(query, f)
	})

	queryVec, embedErr := s.embedQuery(ctx, query)
	var vector []store.RankedMailItem
	var vectorErr error
	if embedErr == nil {
		vector, vectorErr = s.rankedMailAcrossAccounts(storeFilter, accounts, func(f store.MailFilter) ([]store.RankedMailItem, error) {
			return s.reader.SearchVectorMail(queryVec, f)
		})
	}

	degraded := false
	switch {
	case keywordErr != nil && (embedErr != nil || vectorErr != nil):
		return MailResult{}, keywordErr
	case keywordErr != nil:
		keyword = nil
		degraded = true
	case embedErr != nil || vectorErr != nil:
		vector = nil
		degraded = true
	}

	fused := fuseMail(keyword, vector)
	candidateCount := len(fused)
	if len(fused) > filter.limit() {
		fused = fused[:filter.limit()]
	}

	hits := make([]MailHit, 0, len(fused))
	for _, f := range fused {
		hits = append(hits, MailHit{Item: f.item, Score: f.score})
	}
	return MailResult{
		Hits:             hits,
		AccountsSearched: filter.Accounts,
		CandidateCount:   candidateCount,
		Degraded:         degraded,
		Elapsed:          time.Since(start),
	}, nil
}

// SearchCalendar runs the HybridSearcher algorithm over calendar items.
func (s *Searcher) SearchCalendar(ctx context.Context, query string, filter Filter) (CalendarResult, error) {
	start := time.Now()
	accounts, err := s.resolveAccounts(filter.Accounts)
	if err != nil {
		return CalendarResult{}, err
	}

	storeFilter := store.CalendarFilter{
		CalendarID: filter.CalendarID,
		From:       filter.Since,
		To:         filter.Until,
		Limit:      filter.poolSize(),
	}

	if query == "" {
		items, err := s.listCalendarAcrossAccounts(storeFilter, accounts, filter.limit())
		if err != nil {
			return CalendarResult{}, err
		}
		hits := make([]CalendarHit, 0, len(items))
		for _, item := range items {
			hits = append(hits, CalendarHit{Item: item})
		}
		return CalendarResult{Hits: hits, AccountsSearched: filter.Accounts, CandidateCount: len(items), Elapsed: time.Since(start)}, nil
	}

	keyword, keywordErr := s.rankedCalendarAcrossAccounts(storeFilter, accounts, func(f store.CalendarFilter) ([]store.RankedCalendarItem, error) {
		return s.reader.SearchKeywordCalendar(query, f)
	})

	queryVec, embedErr := s.embedQuery(ctx, query)
	var vector []store.RankedCalendarItem
	var vectorErr error
	if embedErr == nil {
		vector, vectorErr = s.rankedCalendarAcrossAccounts(storeFilter, accounts, func(f store.CalendarFilter) ([]store.RankedCalendarItem, error) {
			return s.reader.SearchVectorCalendar(queryVec, f)
		})
	}

	degraded := false
	switch {
	case keywordErr != nil && (embedErr != nil || vectorErr != nil):
		return CalendarResult{}, keywordErr
	case keywordErr != nil:
		keyword = nil
		degraded = true
	case embedErr != nil || vectorErr != nil:
		vector = nil
		degraded = true
	}

	fused := fuseCalendar(keyword, vector)
	candidateCount := len(fused)
	if len(fused) > filter.limit() {
		fused = fused[:filter.limit()]
	}

	hits := make([]CalendarHit, 0, len(fused))
	for _, f := range fused {
		hits = append(hits, CalendarHit{Item: f.item, Score: f.score})
	}
	return CalendarResult{
		Hits:             hits,
		AccountsSearched: filter.Accounts,
		CandidateCount:   candidateCount,
		Degraded:         degraded,
		Elapsed:          time.Since(start),
	}, nil
}

func (s *Searcher) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := s.model.Embed(ctx, []string{query}, embedder.TaskTypeRetrievalQuery)
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, models.Fatal("embed query: empty result", nil)
	}
	return vecs[0], nil
}

// rankedMailAcrossAccounts fans a ranked mail query out over every
// requested account (or a single unfiltered call if accounts is empty),
// merging the results by score so the two sides of the RRF fusion each see
// one globally-ordered candidate list.
func (s *Searcher) rankedMailAcrossAccounts(base store.MailFilter, accounts []string, run func(store.MailFilter) ([]store.RankedMailItem, error)) ([]store.RankedMailItem, error) {
	if len(accounts) == 0 {
		return run(base)
	}
	var all []store.RankedMailItem
	for _, accountID := range accounts {
		f := base
		f.AccountID = accountID
		rows, err := run(f)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score < all[j].Score })
	if len(all) > base.Limit {
		all = all[:base.Limit]
	}
	return all, nil
}

func (s *Searcher) listMailAcrossAccounts(base store.MailFilter, accounts []string, limit int) ([]models.MailItem, error) {
	if len(accounts) == 0 {
		base.Limit = limit
		return s.reader.ListMailItems(base)
	}
	var all []models.MailItem
	for _, accountID := range accounts {
		f := base
		f.AccountID = accountID
		f.Limit = limit
		rows, err := s.reader.ListMailItems(f)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Date.After(all[j].Date) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *Searcher) rankedCalendarAcrossAccounts(base store.CalendarFilter, accounts []string, run func(store.CalendarFilter) ([]store.RankedCalendarItem, error)) ([]store.RankedCalendarItem, error) {
	if len(accounts) == 0 {
		return run(base)
	}
	var all []store.RankedCalendarItem
	for _, accountID := range accounts {
		f := base
		f.AccountID = accountID
		rows, err := run(f)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Score < all[j].Score })
	if len(all) > base.Limit {
		all = all[:base.Limit]
	}
	return all, nil
}

func (s *Searcher) listCalendarAcrossAccounts(base store.CalendarFilter, accounts []string, limit int) ([]models.CalendarItem, error) {
	if len(accounts) == 0 {
		base.Limit = limit
		return s.reader.ListCalendarItems(base)
	}
	var all []models.CalendarItem
	for _, accountID := range accounts {
		f := base
		f.AccountID = accountID
		f.Limit = limit
		rows, err := s.reader.ListCalendarItems(f)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Start.Before(all[j].Start) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

type fusedMail struct {
	item  models.MailItem
	id    int64
	score float64
}

type fusedCalendar struct {
	item  models.CalendarItem
	id    int64
	score float64
}

// fuseMail combines keyword-ranked and vector-ranked mail lists by
// Reciprocal Rank Fusion: score(d) = Σ 1/(k+rank(d)), summing contributions
// from whichever side(s) the document appears in. Ties break on id
// ascending for determinism.
func fuseMail(keyword, vector []store.RankedMailItem) []fusedMail {
	scores := make(map[int64]float64)
	items := make(map[int64]models.MailItem)
	for rank, r := range keyword {
		scores[r.Item.ID] += 1.0 / float64(rrfK+rank+1)
		items[r.Item.ID] = r.Item
	}
	for rank, r := range vector {
		scores[r.Item.ID] += 1.0 / float64(rrfK+rank+1)
		items[r.Item.ID] = r.Item
	}
	out := make([]fusedMail, 0, len(scores))
	for id, score := range scores {
		out = append(out, fusedMail{item: items[id], id: id, score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	return out
}

func fuseCalendar(keyword, vector []store.RankedCalendarItem) []fusedCalendar {
	scores := make(map[int64]float64)
	items := make(map[int64]models.CalendarItem)
	for rank, r := range keyword {
		scores[r.Item.ID] += 1.0 / float64(rrfK+rank+1)
		items[r.Item.ID] = r.Item
	}
	for rank, r := range vector {
		scores[r.Item.ID] += 1.0 / float64(rrfK+rank+1)
		items[r.Item.ID] = r.Item
	}
	out := make([]fusedCalendar, 0, len(scores))
	for id, score := range scores {
		out = append(out, fusedCalendar{item: items[id], id: id, score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].id < out[j].id
	})
	return out
}
