package sender

import "fmt"

// IsRetryable checks if a send error is retryable. Errors that do not
// classify themselves default to retryable: an unknown failure mode costs a
// bounded number of extra attempts, a wrongly dropped message is lost.
func IsRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}
	return true
}

// StatusCode extracts the transport status code from a send error, 0 when
// the error carries none.
func StatusCode(err error) int {
	type coded interface {
		StatusCode() int
	}
	if c, ok := err.(coded); ok {
		return c.StatusCode()
	}
	return 0
}

// PermanentError indicates a failure that will not succeed on retry.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("send error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("send error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// StatusCode returns the transport status code.
func (e *PermanentError) StatusCode() int { return e.Code }

// RetryableError indicates a temporary failure that can be retried.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("send error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("send error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }

// StatusCode returns the transport status code.
func (e *RetryableError) StatusCode() int { return e.Code }
