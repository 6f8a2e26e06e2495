package nextbus

import (
	"errors"
	"fmt"
)

var (
	// ErrFeedUnavailable covers transport failures, timeouts and non-200 responses.
	ErrFeedUnavailable = errors.New("feed unavailable")
	// ErrFeedError matches any *FeedError via errors.Is.
	ErrFeedError = errors.New("feed error")
	// ErrMalformedResponse is returned when a 200 response cannot be parsed.
	ErrMalformedResponse = errors.New("malformed feed response")
)

// FeedError is an application-level error payload reported by the feed.
type FeedError struct {
	Message     string
	ShouldRetry bool
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed error: %s (shouldRetry=%t)", e.Message, e.ShouldRetry)
}

func (e *FeedError) Is(target error) bool {
	return target == ErrFeedError
}
