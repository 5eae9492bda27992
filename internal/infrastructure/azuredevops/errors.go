package azuredevops

import "fmt"

// TransientError marks a retryable failure: network faults, rate limiting
// (429) and server-side errors (5xx). The client retries these with
// exponential backoff up to its configured bound.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient fetch error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient fetch error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix: auth or
// permission problems, bad requests, malformed response payloads.
type PermanentError struct {
	Status int
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("permanent fetch error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("permanent fetch error: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }
