// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package options

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is wrapped by every setter that rejects a value, so
// callers can test rejections with errors.Is regardless of which field
// failed.
var ErrInvalidArgument = errors.New("invalid argument")

// ConfigError reports a cross-field conflict found when building options
// from a record. It carries both field names and values for diagnostics.
type ConfigError struct {
	Field            string
	Value            int
	Conflicting      string
	ConflictingValue int
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s (%d) can't be lower than %s (%d)",
		e.Field, e.Value, e.Conflicting, e.ConflictingValue)
}
