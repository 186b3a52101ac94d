package pipeline

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vietddude/facilitator/internal/core/domain"
)

// Subscription is one event stream a pipeline ingests.
type Subscription struct {
	Contract   common.Address
	EntityType domain.EntityType
}

// Signal tells the pipeline that new data exists. It carries no records.
type Signal struct {
	Side       domain.ChainSide
	EntityType domain.EntityType
}

// FetchRequest selects one page of records strictly newer than Since,
// ascending by event time.
type FetchRequest struct {
	Contract   common.Address
	EntityType domain.EntityType
	Since      uint64
	Skip       int
	Limit      int
}

// Source is the indexer the pipeline reads from. Delivery is at least
// once, so overlapping pages are expected.
type Source interface {
	// Subscribe returns a channel of new-data signals. The channel is
	// closed when the subscription ends.
	Subscribe(ctx context.Context, side domain.ChainSide, subs []Subscription) (<-chan Signal, error)

	// Fetch returns one page of records.
	Fetch(ctx context.Context, req FetchRequest) ([]domain.EventRecord, error)
}

// Lease elects the single process allowed to ingest a side.
type Lease interface {
	// Acquire takes or refreshes the lease and reports whether it is held.
	Acquire(ctx context.Context) (bool, error)

	// Release gives the lease up if held.
	Release(ctx context.Context) error
}
