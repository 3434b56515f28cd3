package app

import (
	"errors"
	"fmt"
	"math"
	"net/http"

	"retroboard/internal/auth"
	"retroboard/internal/export"
	"retroboard/internal/ratelimit"
	"retroboard/internal/retro"
	"retroboard/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var (
		domainErr *DomainError
		exceeded  *ratelimit.ExceededError
		conflict  *store.ConflictError
		storeErr  *store.StoreError
	)
	switch {
	case errors.As(err, &domainErr):
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	case errors.As(err, &exceeded):
		return http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests to the board repository, try again shortly",
			map[string]any{"retryAfterSeconds": retryAfterSeconds(exceeded)}
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests to the board repository, try again shortly", nil
	case errors.As(err, &conflict):
		return http.StatusConflict, "CONFLICT", "The board changed while saving; refresh and try again",
			map[string]any{"path": conflict.Path}
	case errors.Is(err, retro.ErrCardNotFound):
		return http.StatusNotFound, "CARD_NOT_FOUND", "Card not found", nil
	case errors.Is(err, retro.ErrCardInactive):
		return http.StatusConflict, "CARD_INACTIVE", "Card has been deleted", nil
	case errors.Is(err, retro.ErrNotAuthor):
		return http.StatusForbidden, "NOT_AUTHOR", "Only the author can delete this card", nil
	case errors.Is(err, retro.ErrAdminRequired):
		return http.StatusForbidden, "FORBIDDEN", "Administrator access required", nil
	case errors.Is(err, retro.ErrVoteLimit):
		return http.StatusUnprocessableEntity, "VOTE_LIMIT", "No votes left", nil
	case errors.Is(err, retro.ErrInvalidCard), errors.Is(err, retro.ErrInvalidMaxVotes), errors.Is(err, retro.ErrMissingIdentity):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "VALIDATION_ERROR", "Unsupported export format", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available on this server", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.As(err, &storeErr):
		return http.StatusBadGateway, "STORE_ERROR", "The board repository could not be reached", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func retryAfterSeconds(e *ratelimit.ExceededError) int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
