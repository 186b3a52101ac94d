package recovery

import (
	"math"
	"time"
)

// RetryStrategy defines how retries should be handled.
type RetryStrategy interface {
	// GetDelay returns the delay before retrying after err on the given attempt (0-indexed).
	GetDelay(err error, attempt int) time.Duration

	// ShouldRetry checks if we should retry based on the error and attempt count.
	ShouldRetry(err error, attempt int) bool

	// Classify returns the category of err.
	Classify(err error) FailureCategory
}

// ExponentialBackoff implements a standard backoff strategy.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Classifier   Classifier
}

// DefaultBackoff returns sensible defaults for the ingestion loop.
// 1s, 2s, 4s, 8s, 16s (Max 60s)
func DefaultBackoff(classifier Classifier) *ExponentialBackoff {
	if classifier == nil {
		classifier = NewClassifier()
	}
	return &ExponentialBackoff{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  5,
		Classifier:   classifier,
	}
}

// GetDelay calculates delay: InitialDelay * 2^attempt for transient errors.
// Other failures wait MaxDelay.
func (s *ExponentialBackoff) GetDelay(err error, attempt int) time.Duration {
	switch s.Classify(err) {
	case CategoryConfiguration, CategoryData, CategoryUnknown:
		return s.MaxDelay
	case CategoryCanceled:
		return 0
	}
	delay := float64(s.InitialDelay) * math.Pow(2, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// ShouldRetry checks if error is transient and max attempts not exceeded.
func (s *ExponentialBackoff) ShouldRetry(err error, attempt int) bool {
	if attempt >= s.MaxAttempts {
		return false
	}
	return s.Classify(err) == CategoryTransient
}

// Classify returns the category of err.
func (s *ExponentialBackoff) Classify(err error) FailureCategory {
	if s.Classifier == nil {
		return CategoryTransient
	}
	return s.Classifier(err)
}
