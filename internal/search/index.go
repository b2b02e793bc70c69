// Package search maintains the in-memory discovery index and the async
// pipeline that keeps it aligned with the store of record.
package search

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/agentdex/agentdex/internal/registry/model"
	"github.com/google/uuid"
)

// Field weights for relevance scoring. Name matches dominate, description
// matches follow, skill and tag matches contribute least.
const (
	weightName  = 3.0
	weightDesc  = 2.0
	weightSkill = 1.0

	prefixFactor = 0.5
)

type document struct {
	view   *model.AgentView
	tokens map[string]float64 // token -> accumulated field weight
}

// Index is a thread-safe inverted index over agent views. It is rebuilt from
// the database at startup and kept current by the Indexer.
type Index struct {
	mu       sync.RWMutex
	docs     map[uuid.UUID]*document
	postings map[string]map[uuid.UUID]float64
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{
		docs:     make(map[uuid.UUID]*document),
		postings: make(map[string]map[uuid.UUID]float64),
	}
}

// Upsert replaces the indexed state of view.ID with view.
func (ix *Index) Upsert(view *model.AgentView) {
	doc := &document{view: view, tokens: make(map[string]float64)}
	addTokens(doc.tokens, view.Name, weightName)
	addTokens(doc.tokens, view.Description, weightDesc)
	for _, tag := range view.Tags {
		addTokens(doc.tokens, tag, weightSkill)
	}
	for _, s := range view.SkillText {
		addTokens(doc.tokens, s, weightSkill)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(view.ID)
	ix.docs[view.ID] = doc
	for tok, w := range doc.tokens {
		posting := ix.postings[tok]
		if posting == nil {
			posting = make(map[uuid.UUID]float64)
			ix.postings[tok] = posting
		}
		posting[view.ID] = w
	}
}

// Delete removes an agent from the index. Deleting an absent id is a no-op.
func (ix *Index) Delete(id uuid.UUID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
}

// Len returns the number of indexed agents.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docs)
}

func (ix *Index) removeLocked(id uuid.UUID) {
	doc, ok := ix.docs[id]
	if !ok {
		return
	}
	for tok := range doc.tokens {
		delete(ix.postings[tok], id)
		if len(ix.postings[tok]) == 0 {
			delete(ix.postings, tok)
		}
	}
	delete(ix.docs, id)
}

// Query selects and ranks agents. An empty Text ranks by recency instead of
// relevance. TenantID empty means all tenants; PublicOnly then applies.
type Query struct {
	Text         string
	TenantID     string
	PublicOnly   bool
	Tags         []string
	Capabilities []string
	Schemes      []string
	Transport    string
	Limit        int
	Offset       int
}

// Hit is one ranked result.
type Hit struct {
	View  *model.AgentView
	Score float64
}

// Search runs q and returns the requested window of ranked hits. The caller
// is responsible for entitlement filtering of non-public hits.
func (ix *Index) Search(q Query) []Hit {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var hits []Hit
	if tokens := tokenize(q.Text); len(tokens) > 0 {
		scores := ix.scoreLocked(tokens)
		for id, score := range scores {
			doc := ix.docs[id]
			if doc != nil && matches(doc.view, q) {
				hits = append(hits, Hit{View: doc.view, Score: score})
			}
		}
		sort.Slice(hits, func(i, j int) bool {
			if hits[i].Score != hits[j].Score {
				return hits[i].Score > hits[j].Score
			}
			return hits[i].View.UpdatedAt.After(hits[j].View.UpdatedAt)
		})
	} else {
		for _, doc := range ix.docs {
			if matches(doc.view, q) {
				hits = append(hits, Hit{View: doc.view})
			}
		}
		sort.Slice(hits, func(i, j int) bool {
			if !hits[i].View.UpdatedAt.Equal(hits[j].View.UpdatedAt) {
				return hits[i].View.UpdatedAt.After(hits[j].View.UpdatedAt)
			}
			return hits[i].View.ID.String() > hits[j].View.ID.String()
		})
	}

	if q.Offset >= len(hits) {
		return nil
	}
	hits = hits[q.Offset:]
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits
}

// scoreLocked sums token weights per document. Exact token matches score the
// full field weight; a document token that merely starts with the query token
// scores at prefixFactor, which makes the last word of a typeahead query
// useful before it is complete.
func (ix *Index) scoreLocked(tokens []string) map[uuid.UUID]float64 {
	scores := make(map[uuid.UUID]float64)
	for _, tok := range tokens {
		if posting, ok := ix.postings[tok]; ok {
			for id, w := range posting {
				scores[id] += w
			}
		}
		for indexed, posting := range ix.postings {
			if indexed != tok && strings.HasPrefix(indexed, tok) {
				for id, w := range posting {
					scores[id] += w * prefixFactor
				}
			}
		}
	}
	return scores
}

func matches(v *model.AgentView, q Query) bool {
	if q.TenantID != "" && v.TenantID != q.TenantID {
		return false
	}
	if q.PublicOnly && !v.Public {
		return false
	}
	for _, tag := range q.Tags {
		if !containsFold(v.Tags, tag) {
			return false
		}
	}
	for _, cap := range q.Capabilities {
		if !v.Capabilities[cap] {
			return false
		}
	}
	for _, scheme := range q.Schemes {
		if !containsFold(v.SchemeTypes, scheme) {
			return false
		}
	}
	if q.Transport != "" && !strings.EqualFold(v.Transport, q.Transport) {
		return false
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

func addTokens(into map[string]float64, text string, weight float64) {
	for _, tok := range tokenize(text) {
		into[tok] += weight
	}
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
