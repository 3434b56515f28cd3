package search

import (
	"time"

	"retroboard/internal/retro"
)

// Result is a single card hit returned to the caller.
type Result struct {
	ID            string       `json:"id"`
	Column        retro.Column `json:"column"`
	Snippet       string       `json:"snippet"`
	CreatedByName string       `json:"createdByName"`
	Votes         int          `json:"votes"`
}

// Query describes a search request. Only active cards are ever returned.
type Query struct {
	Text   string
	Column retro.Column // empty = all columns
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a full-text search over cards.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// CardRecord is the data we index for a card.
type CardRecord struct {
	ID            string `json:"id"`
	Column        string `json:"column"`
	Content       string `json:"content"`
	Status        string `json:"status"`
	CreatedBy     string `json:"createdBy"`
	CreatedByName string `json:"createdByName"`
	Votes         int    `json:"votes"`
	CreatedAt     int64  `json:"createdAt"`
}

func NewCardRecord(c retro.Card) CardRecord {
	return CardRecord{
		ID:            c.ID,
		Column:        string(c.Column),
		Content:       c.Content,
		Status:        string(c.Status),
		CreatedBy:     c.CreatedBy,
		CreatedByName: c.CreatedByName,
		Votes:         retro.TotalVotes(c),
		CreatedAt:     c.CreatedAt.UTC().Truncate(time.Second).Unix(),
	}
}

func recordsFor(cards []retro.Card) []CardRecord {
	out := make([]CardRecord, 0, len(cards))
	for _, c := range cards {
		out = append(out, NewCardRecord(c))
	}
	return out
}
