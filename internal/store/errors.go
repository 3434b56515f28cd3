package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by backends when a document does not exist.
// Client turns it into the document's default content.
var ErrNotFound = errors.New("document not found")

// ConflictError reports a conditional write rejected because the expected
// revision no longer matches the stored one.
type ConflictError struct {
	Path     string
	Expected string
	Err      error
}

func (e *ConflictError) Error() string {
	expected := e.Expected
	if expected == "" {
		expected = "none"
	}
	msg := fmt.Sprintf("conflicting write to %s: expected revision %s is stale", e.Path, expected)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// StoreError is any remote failure other than not-found, conflict or rate limiting.
type StoreError struct {
	Op     string
	Path   string
	Status int
	Err    error
}

func (e *StoreError) Error() string {
	msg := "store " + e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ConnectivityError means the repository could not be reached or the
// credentials were refused at startup.
type ConnectivityError struct {
	Detail string
}

func (e *ConnectivityError) Error() string {
	return "repository unreachable: " + e.Detail
}

func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}
