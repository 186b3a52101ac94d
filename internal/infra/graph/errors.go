package graph

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnknownEntity is returned for an entity type without a selection set.
	ErrUnknownEntity = errors.New("no selection set for entity type")

	// ErrNoEndpoint is returned when no indexer URL is configured.
	ErrNoEndpoint = errors.New("no indexer endpoint configured")

	// ErrQuery is returned when the indexer answers with GraphQL errors.
	ErrQuery = errors.New("graphql query failed")
)

// StatusError is a non-200 answer from the indexer.
type StatusError struct {
	Code       int
	RetryAfter string
	Body       string
}

func (e *StatusError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("http %d (retry after %s): %s", e.Code, e.RetryAfter, e.Body)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// IsTransient reports whether err is an indexer answer worth retrying:
// throttling or a server-side failure.
func IsTransient(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == http.StatusTooManyRequests || se.Code >= http.StatusInternalServerError
}
