package discord

import (
	"fmt"
)

// FetchError means the platform could not be read: unreachable, malformed response or
// rate limit retries exhausted. It aborts the job that hit it.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// APIError is a non-2xx platform response.
type APIError struct {
	Status  int    `json:"-"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("platform returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("platform returned HTTP %d: %s (code %d)", e.Status, e.Message, e.Code)
}
