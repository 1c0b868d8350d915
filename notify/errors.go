package notify

import "fmt"

// SendError is returned when a message could not be delivered.
type SendError struct {
	Dispatcher string
	Cause      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("notify: send failed on %s: %v", e.Dispatcher, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}
