package retro

import (
	"strings"
	"time"
)

type User struct {
	UserID     string    `json:"userId"`
	Name       string    `json:"name"`
	Registry   string    `json:"registry"`
	LastAccess time.Time `json:"lastAccess"`
	IsAdmin    bool      `json:"isAdmin"`
}

// NormalizeUserID derives the registry key: trimmed and lower-cased.
func NormalizeUserID(registry string) string {
	return strings.ToLower(strings.TrimSpace(registry))
}

func NewUser(name, registry string, isAdmin bool, now time.Time) (User, error) {
	name = strings.TrimSpace(name)
	registry = strings.TrimSpace(registry)
	if name == "" || registry == "" {
		return User{}, ErrMissingIdentity
	}
	return User{
		UserID:     NormalizeUserID(registry),
		Name:       name,
		Registry:   registry,
		LastAccess: now.UTC(),
		IsAdmin:    isAdmin,
	}, nil
}

// CloneUsers copies the registry map.
func CloneUsers(users map[string]User) map[string]User {
	out := make(map[string]User, len(users))
	for k, v := range users {
		out[k] = v
	}
	return out
}
