package cluster

import (
	"fmt"

	"aslcluster/internal/models"
)

// InvalidConfigurationError reports a parameter that makes a run impossible.
// It is returned before any computation starts.
type InvalidConfigurationError struct {
	// Param is the name of the offending parameter
	Param string

	// Value is the rejected value
	Value interface{}

	// Reason describes the accepted domain
	Reason string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s=%v: %s", e.Param, e.Value, e.Reason)
}

// InvalidShapeError reports disagreeing dimensions between the input grid and
// data derived from it.
type InvalidShapeError = models.InvalidShapeError
