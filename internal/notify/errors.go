package notify

import (
	"fmt"
	"time"
)

// ThrottleError — получатель попросил подождать (429 + Retry-After)
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// PermanentError — повтор не поможет (неверный URL, 4xx)
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("webhook rejected the message: status %d: %s", e.StatusCode, e.Body)
}
