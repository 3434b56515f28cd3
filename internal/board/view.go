package board

import (
	"time"

	"retroboard/internal/retro"
)

// CardView is a card as seen by one participant.
type CardView struct {
	retro.Card
	TotalVotes int  `json:"totalVotes"`
	UserVoted  bool `json:"userVoted"`
	CanVote    bool `json:"canVote"`
	CanDelete  bool `json:"canDelete"`
}

type ColumnView struct {
	Column retro.Column `json:"column"`
	Cards  []CardView   `json:"cards"`
}

// View is the board rendered for one participant: active cards per column
// and the participant's remaining vote budget.
type View struct {
	Title           string       `json:"title"`
	MaxVotesPerUser int          `json:"maxVotesPerUser"`
	VotesRemaining  int          `json:"votesRemaining"`
	ActiveCards     int          `json:"activeCards"`
	Users           int          `json:"users"`
	LastUpdated     time.Time    `json:"lastUpdated"`
	Columns         []ColumnView `json:"columns"`
}

func NewView(snap retro.Snapshot, userID string) View {
	v := View{
		Title:           snap.Settings.BoardTitle,
		MaxVotesPerUser: snap.Settings.MaxVotesPerUser,
		VotesRemaining:  retro.VotesRemaining(snap, userID),
		ActiveCards:     snap.ActiveCardCount(),
		Users:           len(snap.Users),
		LastUpdated:     snap.Settings.LastUpdated,
		Columns:         make([]ColumnView, 0, len(retro.Columns)),
	}
	for _, col := range retro.Columns {
		cards := retro.ActiveCards(snap.Cards, col)
		cv := ColumnView{Column: col, Cards: make([]CardView, 0, len(cards))}
		for _, c := range cards {
			cv.Cards = append(cv.Cards, CardView{
				Card:       c,
				TotalVotes: retro.TotalVotes(c),
				UserVoted:  c.HasVote(userID),
				CanVote:    retro.EligibleToVote(snap, userID, c),
				CanDelete:  retro.CanDelete(c, userID),
			})
		}
		v.Columns = append(v.Columns, cv)
	}
	return v
}

func (v View) Column(col retro.Column) []CardView {
	for _, c := range v.Columns {
		if c.Column == col {
			return c.Cards
		}
	}
	return nil
}
