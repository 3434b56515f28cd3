// Package retro holds the retrospective board model and the pure card/vote rules.
package retro

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

type Column string

const (
	ColumnGood    Column = "good"
	ColumnBad     Column = "bad"
	ColumnImprove Column = "improve"
)

// Columns lists the board columns in display order.
var Columns = []Column{ColumnGood, ColumnBad, ColumnImprove}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

type Card struct {
	ID            string         `json:"id"`
	Column        Column         `json:"column"`
	Content       string         `json:"content"`
	Votes         map[string]int `json:"votes"`
	Status        Status         `json:"status"`
	CreatedBy     string         `json:"createdBy"`
	CreatedByName string         `json:"createdByName"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// CardInput is what a participant submits when adding a card.
type CardInput struct {
	Column  Column `json:"column" validate:"required,oneof=good bad improve"`
	Content string `json:"content" validate:"required,max=2000"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func inputValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate trims the content and checks the column and content constraints.
func (in *CardInput) Validate() error {
	in.Content = strings.TrimSpace(in.Content)
	if err := inputValidator().Struct(in); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok {
			parts := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidCard, strings.Join(parts, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}
	return nil
}

// NewCard builds an active card with no votes, authored by the given user.
func NewCard(id string, input CardInput, author User, now time.Time) (Card, error) {
	if err := input.Validate(); err != nil {
		return Card{}, err
	}
	if author.UserID == "" {
		return Card{}, ErrMissingIdentity
	}
	return Card{
		ID:            id,
		Column:        input.Column,
		Content:       input.Content,
		Votes:         map[string]int{},
		Status:        StatusActive,
		CreatedBy:     author.UserID,
		CreatedByName: author.Name,
		CreatedAt:     now.UTC(),
	}, nil
}

func (c Card) Active() bool {
	return c.Status == StatusActive
}

// HasVote reports whether userID currently holds a vote on the card.
func (c Card) HasVote(userID string) bool {
	return c.Votes[userID] > 0
}

// Clone returns a copy that shares no maps with c.
func (c Card) Clone() Card {
	out := c
	out.Votes = make(map[string]int, len(c.Votes))
	for k, v := range c.Votes {
		out.Votes[k] = v
	}
	return out
}

// CloneCards deep-copies a card sequence, preserving order.
func CloneCards(cards []Card) []Card {
	out := make([]Card, len(cards))
	for i, c := range cards {
		out[i] = c.Clone()
	}
	return out
}
