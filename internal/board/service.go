package board

import (
	"context"
	"fmt"

	"retroboard/internal/authpw"
	"retroboard/internal/retro"
)

// AddCard validates input and appends a new active card authored by author.
func (s *Synchronizer) AddCard(ctx context.Context, author retro.User, input retro.CardInput) (retro.Card, error) {
	card, err := retro.NewCard(s.newID(), input, author, s.now())
	if err != nil {
		return retro.Card{}, err
	}
	_, err = s.MutateCards(ctx, func(cards []retro.Card) ([]retro.Card, error) {
		return append(cards, card), nil
	})
	if err != nil {
		return retro.Card{}, err
	}
	s.log.Info("board: card added", "card", card.ID, "column", card.Column, "user", author.UserID)
	return card, nil
}

// ToggleVote adds or removes userID's vote on the card, subject to the
// per-user vote budget.
func (s *Synchronizer) ToggleVote(ctx context.Context, userID, cardID string) (retro.Card, error) {
	if userID == "" {
		return retro.Card{}, retro.ErrMissingIdentity
	}
	var updated retro.Card
	_, err := s.MutateCards(ctx, func(cards []retro.Card) ([]retro.Card, error) {
		i, err := indexOf(cards, cardID)
		if err != nil {
			return nil, err
		}
		if !cards[i].Active() {
			return nil, retro.ErrCardInactive
		}
		// Settings are read per attempt so a rebase sees the current quota.
		view := retro.Snapshot{Cards: cards, Settings: s.settings()}
		if !retro.EligibleToVote(view, userID, cards[i]) {
			return nil, retro.ErrVoteLimit
		}
		cards[i] = retro.ToggleVote(cards[i], userID)
		updated = cards[i]
		return cards, nil
	})
	if err != nil {
		return retro.Card{}, err
	}
	return updated, nil
}

// DeleteCard soft-deletes a card. Only its author may do so.
func (s *Synchronizer) DeleteCard(ctx context.Context, userID, cardID string) (retro.Card, error) {
	var deleted retro.Card
	_, err := s.MutateCards(ctx, func(cards []retro.Card) ([]retro.Card, error) {
		i, err := indexOf(cards, cardID)
		if err != nil {
			return nil, err
		}
		if !cards[i].Active() {
			return nil, retro.ErrCardInactive
		}
		if !retro.CanDelete(cards[i], userID) {
			return nil, retro.ErrNotAuthor
		}
		cards[i] = retro.SoftDelete(cards[i])
		deleted = cards[i]
		return cards, nil
	})
	if err != nil {
		return retro.Card{}, err
	}
	s.log.Info("board: card deleted", "card", cardID, "user", userID)
	return deleted, nil
}

// UpdateSettings merges patch into the settings document. Admin only.
func (s *Synchronizer) UpdateSettings(ctx context.Context, actor retro.User, patch retro.SettingsPatch) (retro.Settings, error) {
	if !actor.IsAdmin {
		return retro.Settings{}, retro.ErrAdminRequired
	}
	return s.MutateSettings(ctx, patch)
}

// Login registers (or re-registers) a participant. The user is an admin
// when password matches the board's admin password.
func (s *Synchronizer) Login(ctx context.Context, name, registry, password string) (retro.User, error) {
	settings := s.Snapshot().Settings
	isAdmin := password != "" && authpw.Verify(settings.AdminPassword, password)

	user, err := retro.NewUser(name, registry, isAdmin, s.now())
	if err != nil {
		return retro.User{}, err
	}
	_, err = s.MutateUsers(ctx, func(users map[string]retro.User) (map[string]retro.User, error) {
		if users == nil {
			users = map[string]retro.User{}
		}
		users[user.UserID] = user
		return users, nil
	})
	if err != nil {
		return retro.User{}, fmt.Errorf("register user: %w", err)
	}
	s.log.Info("board: user logged in", "user", user.UserID, "admin", user.IsAdmin)
	return user, nil
}

// CreateBackup is the manual, admin-only backup.
func (s *Synchronizer) CreateBackup(ctx context.Context, actor retro.User) (BackupResult, error) {
	if !actor.IsAdmin {
		return BackupResult{}, retro.ErrAdminRequired
	}
	return s.SnapshotBackup(ctx), nil
}

// User looks up a registered participant in the current snapshot.
func (s *Synchronizer) User(userID string) (retro.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.snap.Users[userID]
	return u, ok
}

func indexOf(cards []retro.Card, id string) (int, error) {
	for i := range cards {
		if cards[i].ID == id {
			return i, nil
		}
	}
	return -1, retro.ErrCardNotFound
}
