package fhe

import "fmt"

// The FHE client distinguishes two failure families with typed errors so
// callers never sniff runtime shapes:
//
//   - ServiceError: the service responded and rejected the operation
//   - TransportError: the service could not be reached or answered garbage

// ErrorKind classifies service-side rejections.
type ErrorKind string

const (
	KindKeyNotFound  ErrorKind = "key_not_found"
	KindInvalidInput ErrorKind = "invalid_input"
	KindInternal     ErrorKind = "internal"
)

// ServiceError is a structured rejection from the FHE service.
type ServiceError struct {
	Operation string
	Kind      ErrorKind
	Status    int
	Body      string
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("fhe %s rejected (%s, status %d): %s", e.Operation, e.Kind, e.Status, e.Body)
}

// TransportError wraps a network or decoding failure before any service
// verdict was obtained.
type TransportError struct {
	Operation string
	Err       error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fhe %s transport failure: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func kindForStatus(status int) ErrorKind {
	switch status {
	case 404:
		return KindKeyNotFound
	case 400:
		return KindInvalidInput
	default:
		return KindInternal
	}
}
