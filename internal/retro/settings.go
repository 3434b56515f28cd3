package retro

import (
	"strings"
	"time"
)

const (
	DefaultBoardTitle      = "Scrum Retrospective Board"
	DefaultMaxVotesPerUser = 3
)

type Settings struct {
	MaxVotesPerUser int       `json:"maxVotesPerUser"`
	BoardTitle      string    `json:"boardTitle"`
	AdminPassword   string    `json:"adminPassword"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

// SettingsPatch is a partial settings update; nil fields are left untouched.
type SettingsPatch struct {
	MaxVotesPerUser *int    `json:"maxVotesPerUser,omitempty"`
	BoardTitle      *string `json:"boardTitle,omitempty"`
	AdminPassword   *string `json:"adminPassword,omitempty"`
}

// DefaultSettings is the document used when settings.json does not exist yet.
func DefaultSettings(maxVotes int, adminPassword string, now time.Time) Settings {
	if maxVotes < 1 {
		maxVotes = DefaultMaxVotesPerUser
	}
	return Settings{
		MaxVotesPerUser: maxVotes,
		BoardTitle:      DefaultBoardTitle,
		AdminPassword:   adminPassword,
		LastUpdated:     now.UTC(),
	}
}

// Merge applies p on top of s and stamps LastUpdated.
func (s Settings) Merge(p SettingsPatch, now time.Time) (Settings, error) {
	out := s
	if p.MaxVotesPerUser != nil {
		if *p.MaxVotesPerUser < 1 {
			return Settings{}, ErrInvalidMaxVotes
		}
		out.MaxVotesPerUser = *p.MaxVotesPerUser
	}
	if p.BoardTitle != nil {
		if title := strings.TrimSpace(*p.BoardTitle); title != "" {
			out.BoardTitle = title
		}
	}
	if p.AdminPassword != nil && *p.AdminPassword != "" {
		out.AdminPassword = *p.AdminPassword
	}
	out.LastUpdated = now.UTC()
	return out, nil
}

// Public strips the admin password so settings can be shown to participants.
func (s Settings) Public() Settings {
	s.AdminPassword = ""
	return s
}
