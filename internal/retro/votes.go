package retro

// TotalVotes sums the vote counts on a card.
func TotalVotes(c Card) int {
	total := 0
	for _, n := range c.Votes {
		total += n
	}
	return total
}

// ToggleVote removes userID's vote when present and adds a single vote otherwise.
// The input card is not modified.
func ToggleVote(c Card, userID string) Card {
	out := c.Clone()
	if out.HasVote(userID) {
		delete(out.Votes, userID)
		return out
	}
	out.Votes[userID] = 1
	return out
}

// VoteCount is the number of cards userID has voted on. Soft-deleted cards
// keep their votes and still count against the quota.
func VoteCount(cards []Card, userID string) int {
	n := 0
	for _, c := range cards {
		if c.HasVote(userID) {
			n++
		}
	}
	return n
}

// EligibleToVote allows removing an existing vote unconditionally and adding a
// new one only while the user is under the board's vote quota.
func EligibleToVote(s Snapshot, userID string, c Card) bool {
	if userID == "" {
		return false
	}
	if c.HasVote(userID) {
		return true
	}
	return VoteCount(s.Cards, userID) < s.Settings.MaxVotesPerUser
}

// VotesRemaining is the quota left for userID, never negative.
func VotesRemaining(s Snapshot, userID string) int {
	left := s.Settings.MaxVotesPerUser - VoteCount(s.Cards, userID)
	if left < 0 {
		return 0
	}
	return left
}

// CanDelete grants deletion to the card author only.
func CanDelete(c Card, userID string) bool {
	return userID != "" && c.CreatedBy == userID
}

// SoftDelete marks the card inactive; it stays in the stored sequence.
func SoftDelete(c Card) Card {
	out := c.Clone()
	out.Status = StatusInactive
	return out
}

// ActiveCards returns the active cards of one column in stored order.
func ActiveCards(cards []Card, column Column) []Card {
	out := make([]Card, 0)
	for _, c := range cards {
		if c.Column == column && c.Active() {
			out = append(out, c.Clone())
		}
	}
	return out
}

// VotedCards returns every card userID has voted on, inactive ones included.
func VotedCards(cards []Card, userID string) []Card {
	out := make([]Card, 0)
	for _, c := range cards {
		if c.HasVote(userID) {
			out = append(out, c.Clone())
		}
	}
	return out
}
