package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"retroboard/internal/retro"
)

// Source provides the board to export; *board.Synchronizer implements it.
type Source interface {
	Snapshot() retro.Snapshot
}

// Service provides board export functionality
type Service struct {
	source    Source
	now       func() time.Time
	chromeBin string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithChrome pins the browser binary used for PDF rendering.
func WithChrome(path string) Option {
	return func(s *Service) { s.chromeBin = path }
}

func NewService(source Source, opts ...Option) *Service {
	s := &Service{source: source, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Document is the JSON export layout.
type Document struct {
	ExportDate time.Time             `json:"exportDate"`
	Cards      []retro.Card          `json:"cards"`
	Settings   retro.Settings        `json:"settings"`
	Users      map[string]retro.User `json:"users"`
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, format Format) (*Result, error) {
	snap := s.source.Snapshot()
	now := s.now().UTC()

	switch format {
	case FormatJSON:
		return exportJSON(snap, now)
	case FormatHTML, FormatPDF:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	html, err := RenderBoardHTML(templateData(snap, now))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	if format == FormatHTML {
		return &Result{
			Data:     []byte(html),
			Filename: baseName(snap.Settings.BoardTitle, now) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	}
	return exportPDF(ctx, s.chromeBin, html, baseName(snap.Settings.BoardTitle, now))
}

func exportJSON(snap retro.Snapshot, now time.Time) (*Result, error) {
	doc := Document{
		ExportDate: now,
		Cards:      snap.Cards,
		Settings:   snap.Settings.Public(),
		Users:      snap.Users,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	return &Result{
		Data:     data,
		Filename: fmt.Sprintf("retro-board-%s.json", now.Format("2006-01-02")),
		MimeType: "application/json",
	}, nil
}

var columnLabels = map[retro.Column]string{
	retro.ColumnGood:    "What went well",
	retro.ColumnBad:     "What went wrong",
	retro.ColumnImprove: "What to improve",
}

func templateData(snap retro.Snapshot, now time.Time) TemplateData {
	data := TemplateData{
		Title:       snap.Settings.BoardTitle,
		ExportedAt:  now,
		ActiveCards: snap.ActiveCardCount(),
		Users:       len(snap.Users),
	}
	for _, col := range retro.Columns {
		cards := retro.ActiveCards(snap.Cards, col)
		sort.SliceStable(cards, func(i, j int) bool {
			return retro.TotalVotes(cards[i]) > retro.TotalVotes(cards[j])
		})
		tc := TemplateColumn{Key: string(col), Label: columnLabels[col]}
		for _, c := range cards {
			tc.Cards = append(tc.Cards, TemplateCard{
				Content: c.Content,
				Author:  c.CreatedByName,
				Votes:   retro.TotalVotes(c),
			})
		}
		data.Columns = append(data.Columns, tc)
	}
	return data
}

func baseName(title string, now time.Time) string {
	return sanitizeFilename(title) + "-" + now.Format("2006-01-02")
}
