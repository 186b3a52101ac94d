// Package handler folds indexed gateway events into messages and requests.
//
// Every entity type has exactly one Handler. A handler receives the records
// of one batch, applies them in event-time order against the stored state and
// returns the entities it changed. Handlers never write: saving is left to
// the dispatcher so that a whole batch commits as one unit of work.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/infra/storage"
)

var (
	// ErrDuplicateHandler is returned when an entity type is registered twice.
	ErrDuplicateHandler = errors.New("handler already registered")
)

// Handler persists the records of one entity type.
type Handler interface {
	// Persist applies records and returns the entities that changed.
	// Stale and duplicate records are absorbed; only malformed records
	// and repository failures are errors.
	Persist(ctx context.Context, records []domain.EventRecord) (*Result, error)
}

// Result is the set of entities a handler changed.
type Result struct {
	Messages []*domain.Message
	Requests []*domain.MessageTransferRequest
}

// Empty reports whether nothing changed.
func (r *Result) Empty() bool {
	return r == nil || (len(r.Messages) == 0 && len(r.Requests) == 0)
}

// Repositories are the read paths handlers need.
type Repositories struct {
	Messages storage.MessageRepository
	Requests storage.RequestRepository
}

// Registry maps entity types to their handler.
type Registry struct {
	mu       sync.RWMutex
	handlers map[domain.EntityType]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[domain.EntityType]Handler)}
}

// Register binds h to entityType.
func (r *Registry) Register(entityType domain.EntityType, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[entityType]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, entityType)
	}
	r.handlers[entityType] = h
	return nil
}

// Get returns the handler for entityType.
func (r *Registry) Get(entityType domain.EntityType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[entityType]
	return h, ok
}

// EntityTypes returns the registered entity types in sorted order.
func (r *Registry) EntityTypes() []domain.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.EntityType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultRegistry registers a handler for every known entity type.
func DefaultRegistry(repos Repositories, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := NewRegistry()
	for _, k := range messageKinds {
		var h Handler
		switch {
		case k.side == domain.SideSource && k.status == domain.MessageStatusDeclared:
			h = NewDeclareHandler(k, repos, logger)
		case k.side == domain.SideSource && k.status == domain.MessageStatusProgressed:
			h = NewProgressHandler(k, repos, logger)
		case k.side == domain.SideTarget && k.status == domain.MessageStatusDeclared:
			h = NewConfirmHandler(k, repos, logger)
		case k.side == domain.SideTarget && k.status == domain.MessageStatusProgressed:
			h = NewTargetProgressHandler(k, repos, logger)
		default:
			h = NewRevocationHandler(k, repos, logger)
		}
		if err := reg.Register(k.entity, h); err != nil {
			return nil, err
		}
	}
	for _, k := range requestKinds {
		if err := reg.Register(k.entity, NewRequestHandler(k, repos, logger)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
