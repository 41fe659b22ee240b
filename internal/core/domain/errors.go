package domain

import (
	"errors"
	"fmt"
)

// ErrNoEndpoints matches every NoEndpointsError via errors.Is.
var ErrNoEndpoints = errors.New("no endpoints available")

// NoEndpointsError is returned when a group has no usable node left.
type NoEndpointsError struct {
	Group string
}

func (e *NoEndpointsError) Error() string {
	return fmt.Sprintf("no endpoints available for %s", e.Group)
}

func (e *NoEndpointsError) Is(target error) bool {
	return target == ErrNoEndpoints
}
