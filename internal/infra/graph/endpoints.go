package graph

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// endpoints rotates through indexer URLs. The current endpoint is kept
// until it fails with an error that another endpoint may not have.
type endpoints struct {
	mu    sync.Mutex
	urls  []string
	index int
}

func newEndpoints(primary string, fallbacks []string) *endpoints {
	urls := make([]string, 0, 1+len(fallbacks))
	if primary != "" {
		urls = append(urls, primary)
	}
	for _, u := range fallbacks {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return &endpoints{urls: urls}
}

func (e *endpoints) current() (string, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.urls[e.index], e.index
}

// rotate moves past the endpoint at index, unless another caller already did.
func (e *endpoints) rotate(index int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index == index {
		e.index = (e.index + 1) % len(e.urls)
	}
}

func (e *endpoints) len() int { return len(e.urls) }

// shouldFailover reports whether err is specific to one endpoint: transport
// failures, throttling, blocking and server errors. Query errors and
// cancellation are the same everywhere.
func shouldFailover(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, ErrQuery) || errors.Is(err, ErrUnknownEntity) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusForbidden || IsTransient(se)
	}
	return true
}
