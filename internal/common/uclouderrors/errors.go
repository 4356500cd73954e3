// Package uclouderrors contains the typed errors returned to callers of the job manager.
//
// Request-facing code returns one of the types below (usually wrapped with errors.WithStack); the surrounding
// request layer looks through the chain with errors.As and converts it into a status and message via
// HttpStatusFromError. Internal reconciliation failures are never converted, they are logged and retried.
//
// If multiple errors occur in some function (e.g. several plugins fail during cleanup), that function should return
// an error of type multierror.Error from package github.com/hashicorp/go-multierror.
package uclouderrors

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// ErrAlreadyExists is a generic error to be returned whenever some resource already exists.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrAlreadyExists struct {
	Type    string // Resource type, e.g., "ingress" or "namespace"
	Value   string // Resource name, e.g., "my-app.example"
	Message string // An optional message to include in the error message
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
//
// See ErrAlreadyExists for more info.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "ingress"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %q is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// ErrCapacityExhausted is returned when a pool of resources (e.g. public IP addresses) has nothing left to give.
type ErrCapacityExhausted struct {
	Type      string
	Requested int
	Available int
}

func (err *ErrCapacityExhausted) Error() string {
	return fmt.Sprintf("not enough %s available: requested %d, available %d", err.Type, err.Requested, err.Available)
}

// ErrCreateResource is returned when the cluster refuses to create a resource.
type ErrCreateResource struct {
	Type    string
	Name    string
	Message string
}

func (err *ErrCreateResource) Error() string {
	return fmt.Sprintf("failed to create %s %q; %s", err.Type, err.Name, err.Message)
}

// RequestError is a pre-classified error. It is used where none of the generic types above fit.
type RequestError struct {
	Status  int
	Message string
}

func (err *RequestError) Error() string {
	return fmt.Sprintf("%d %s: %s", err.Status, http.StatusText(err.Status), err.Message)
}

func NewRequestError(status int, format string, args ...interface{}) error {
	return errors.WithStack(&RequestError{Status: status, Message: fmt.Sprintf(format, args...)})
}

// HttpStatusFromError maps error types to http status codes.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
func HttpStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var requestErr *RequestError
	var alreadyExists *ErrAlreadyExists
	var notFound *ErrNotFound
	var invalidArgument *ErrInvalidArgument
	var capacityExhausted *ErrCapacityExhausted
	switch {
	case errors.As(err, &requestErr):
		return requestErr.Status
	case errors.As(err, &alreadyExists):
		return http.StatusConflict
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &invalidArgument):
		return http.StatusBadRequest
	case errors.As(err, &capacityExhausted):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
