package retro

import "time"

// Meta records the last observed revision of each stored document.
// It is held in memory only and never written to the documents themselves.
type Meta struct {
	CardsSha    string `json:"cardsSha"`
	SettingsSha string `json:"settingsSha"`
	UsersSha    string `json:"usersSha"`
}

type Snapshot struct {
	Cards    []Card          `json:"cards"`
	Settings Settings        `json:"settings"`
	Users    map[string]User `json:"users"`
	Meta     Meta            `json:"_meta"`
}

// Clone deep-copies the snapshot so callers can read it without holding locks.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		Cards:    CloneCards(s.Cards),
		Settings: s.Settings,
		Users:    CloneUsers(s.Users),
		Meta:     s.Meta,
	}
}

func (s Snapshot) FindCard(id string) (Card, bool) {
	for _, c := range s.Cards {
		if c.ID == id {
			return c.Clone(), true
		}
	}
	return Card{}, false
}

// ActiveCardCount counts cards that are still shown on the board.
func (s Snapshot) ActiveCardCount() int {
	n := 0
	for _, c := range s.Cards {
		if c.Active() {
			n++
		}
	}
	return n
}

// Backup is a full, write-only copy of the board.
type Backup struct {
	Timestamp time.Time       `json:"timestamp"`
	Cards     []Card          `json:"cards"`
	Settings  Settings        `json:"settings"`
	Users     map[string]User `json:"users"`
}

func NewBackup(s Snapshot, now time.Time) Backup {
	c := s.Clone()
	return Backup{
		Timestamp: now.UTC(),
		Cards:     c.Cards,
		Settings:  c.Settings,
		Users:     c.Users,
	}
}
