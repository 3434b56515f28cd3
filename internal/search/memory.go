package search

import (
	"html"
	"sort"
	"strings"
	"sync"

	"retroboard/internal/retro"
)

// Memory is a substring searcher over the latest board snapshot. It is the
// fallback whenever Meilisearch is missing or unhealthy.
type Memory struct {
	mu      sync.RWMutex
	records []CardRecord
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Replace(records []CardRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append([]CardRecord(nil), records...)
}

func (m *Memory) Healthy() bool {
	return true
}

// Search matches every whitespace-separated term case-insensitively and
// orders hits by votes, then creation time.
func (m *Memory) Search(q Query) ([]Result, int, error) {
	terms := strings.Fields(strings.ToLower(q.Text))

	m.mu.RLock()
	var hits []CardRecord
	for _, r := range m.records {
		if r.Status != string(retro.StatusActive) {
			continue
		}
		if q.Column != "" && r.Column != string(q.Column) {
			continue
		}
		if matchesAll(strings.ToLower(r.Content+" "+r.CreatedByName), terms) {
			hits = append(hits, r)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Votes != hits[j].Votes {
			return hits[i].Votes > hits[j].Votes
		}
		return hits[i].CreatedAt < hits[j].CreatedAt
	})

	total := len(hits)
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if q.Offset >= len(hits) {
		return []Result{}, total, nil
	}
	hits = hits[q.Offset:]
	if len(hits) > limit {
		hits = hits[:limit]
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{
			ID:            h.ID,
			Column:        retro.Column(h.Column),
			Snippet:       highlight(h.Content, terms),
			CreatedByName: h.CreatedByName,
			Votes:         h.Votes,
		})
	}
	return results, total, nil
}

func matchesAll(haystack string, terms []string) bool {
	for _, t := range terms {
		if !strings.Contains(haystack, t) {
			return false
		}
	}
	return true
}

// highlight escapes content and wraps the first occurrence of each term in <mark>.
func highlight(content string, terms []string) string {
	escaped := html.EscapeString(content)
	lower := strings.ToLower(escaped)

	type span struct{ start, end int }
	var spans []span
	for _, t := range terms {
		et := html.EscapeString(t)
		if i := strings.Index(lower, et); i >= 0 {
			spans = append(spans, span{i, i + len(et)})
		}
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	pos := 0
	for _, sp := range spans {
		if sp.start < pos {
			continue
		}
		b.WriteString(escaped[pos:sp.start])
		b.WriteString("<mark>")
		b.WriteString(escaped[sp.start:sp.end])
		b.WriteString("</mark>")
		pos = sp.end
	}
	b.WriteString(escaped[pos:])
	return b.String()
}
