package model

import (
	"errors"
	"fmt"
)

// ErrDeleted is returned when a write targets a url whose row has been soft deleted.
var ErrDeleted = errors.New("product is deleted")

// ErrDuplicateURL is returned when a write collides with another product's url.
var ErrDuplicateURL = errors.New("product url already exists")

// NetworkError reports a non-success transport outcome. Status is 0 when no response arrived.
type NetworkError struct {
	Status int
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("network error fetching %s: status %d", e.URL, e.Status)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError reports a response body that is not the expected shape.
type ParseError struct {
	URL    string
	Status int
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error for %s: %s", e.URL, e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Err }

// PersistenceError wraps a store failure. Op is the operation-scoped context key.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error in %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ValidationError is a rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// NotFoundError reports a missing or already deleted entity.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// IsNotFound reports whether err carries a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
