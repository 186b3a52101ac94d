package postgres

import (
	"context"

	"github.com/vietddude/facilitator/internal/infra/storage"
)

// Store exposes the PostgreSQL repositories over one shared pool.
type Store struct {
	db       *DB
	messages *MessageRepo
	requests *RequestRepo
	cursors  *CursorRepo
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a store over db.
func NewStore(db *DB) *Store {
	return &Store{
		db:       db,
		messages: NewMessageRepo(db),
		requests: NewRequestRepo(db),
		cursors:  NewCursorRepo(db),
	}
}

func (s *Store) Messages() storage.MessageRepository { return s.messages }
func (s *Store) Requests() storage.RequestRepository { return s.requests }
func (s *Store) Cursors() storage.CursorRepository   { return s.cursors }

// Begin starts a unit of work.
func (s *Store) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	return s.db.NewUnitOfWork(ctx)
}

// Health pings the database.
func (s *Store) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
