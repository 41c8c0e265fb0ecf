package checkout

import (
	"errors"
	"fmt"
)

var ErrEmptyCart = errors.New("cart is empty, nothing to checkout")

// ServiceError is a failed call to the checkout service. Status is 0 when
// no HTTP response was received. Body holds the raw response text.
type ServiceError struct {
	Status int
	Reason string
	Body   string
	Err    error
}

func (e *ServiceError) Error() string {
	msg := e.Reason
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ServiceError) Unwrap() error { return e.Err }
