package transcription

import (
	"errors"
	"fmt"
)

// ErrNoMatch means the service processed the audio but recognized no speech
var ErrNoMatch = errors.New("no speech recognized")

// ServiceError is a transient or external failure of the recognition service
type ServiceError struct {
	Provider   string
	StatusCode int // HTTP status, 0 for transport failures
	Err        error
}

func (e *ServiceError) Error() string {
	if e == nil || e.Err == nil {
		return "recognition service error"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable reports whether repeating the request may succeed
func (e *ServiceError) Retryable() bool {
	if e == nil {
		return false
	}
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}

// NewServiceError wraps err as a *ServiceError
func NewServiceError(provider string, statusCode int, err error) error {
	if err == nil {
		return nil
	}
	return &ServiceError{Provider: provider, StatusCode: statusCode, Err: err}
}

// IsServiceError reports whether err is or wraps a *ServiceError
func IsServiceError(err error) bool {
	var svc *ServiceError
	return errors.As(err, &svc)
}
