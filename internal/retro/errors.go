package retro

import "errors"

var (
	ErrCardNotFound    = errors.New("card not found")
	ErrCardInactive    = errors.New("card is no longer active")
	ErrNotAuthor       = errors.New("only the card author can delete it")
	ErrVoteLimit       = errors.New("vote limit reached")
	ErrInvalidCard     = errors.New("invalid card")
	ErrInvalidMaxVotes = errors.New("max votes per user must be at least 1")
	ErrMissingIdentity = errors.New("name and registry are required")
	ErrAdminRequired   = errors.New("administrator privileges required")
)
