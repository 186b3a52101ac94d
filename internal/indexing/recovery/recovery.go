// Package recovery classifies ingestion failures and decides how long the
// loop waits before trying a batch again.
package recovery

import (
	"context"
	"errors"
	"net"

	"github.com/vietddude/facilitator/internal/core/domain"
	"github.com/vietddude/facilitator/internal/indexing/dispatcher"
)

// FailureCategory is the error taxonomy of the ingestion loop.
type FailureCategory int

const (
	// CategoryTransient covers unreachable stores and network timeouts.
	// Retried with backoff.
	CategoryTransient FailureCategory = iota
	// CategoryConfiguration covers missing handler registrations.
	// Retrying does not help, so it is logged loudly.
	CategoryConfiguration
	// CategoryData covers malformed records. The batch is retried from the
	// same watermark once the source has been fixed.
	CategoryData
	// CategoryCanceled means the loop is shutting down.
	CategoryCanceled
	// CategoryUnknown is anything not recognised above.
	CategoryUnknown
)

func (c FailureCategory) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryConfiguration:
		return "configuration"
	case CategoryData:
		return "data"
	case CategoryCanceled:
		return "canceled"
	case CategoryUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// Classifier maps an error to its category.
type Classifier func(err error) FailureCategory

// NewClassifier builds the default classifier. Errors matching any of the
// transient predicates are transient, as are network errors and deadlines.
// Anything unrecognised is CategoryUnknown.
func NewClassifier(transient ...func(error) bool) Classifier {
	return func(err error) FailureCategory {
		switch {
		case errors.Is(err, context.Canceled):
			return CategoryCanceled
		case errors.Is(err, dispatcher.ErrUnimplementedHandler):
			return CategoryConfiguration
		case errors.Is(err, domain.ErrInvalidRecord):
			return CategoryData
		case errors.Is(err, context.DeadlineExceeded):
			return CategoryTransient
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return CategoryTransient
		}
		for _, fn := range transient {
			if fn(err) {
				return CategoryTransient
			}
		}
		return CategoryUnknown
	}
}
