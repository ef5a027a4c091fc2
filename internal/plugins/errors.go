package plugins

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no main file exists for a slug.
var ErrNotFound = errors.New("plugin not found")

// PluginError represents an error that occurred while handling a plugin.
type PluginError struct {
	Slug    string
	Op      string
	Message string
	Cause   error
}

func (e *PluginError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("plugin %s: %s: %s: %v", e.Slug, e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("plugin %s: %s: %s", e.Slug, e.Op, e.Message)
}

func (e *PluginError) Unwrap() error {
	return e.Cause
}
