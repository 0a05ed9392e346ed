package embed

import (
	"context"
	"errors"
	"fmt"
)

// ErrWidgetUnavailable is returned by a Widget whose SDK is not loaded
var ErrWidgetUnavailable = errors.New("superset embedded sdk not loaded")

// MountPoint is the container a widget renders into.
// Implementations must be comparable (pointer types are).
type MountPoint interface {
	ID() string
	// Clear drops any content left in the container
	Clear()
}

// Handle is a live widget instance
type Handle interface {
	Unmount() error
}

// UIConfig holds display options passed to the widget
type UIConfig struct {
	HideTitle bool `json:"hideTitle"`
}

// Config is handed to Widget.Embed
type Config struct {
	DashboardID    string
	SupersetDomain string
	MountPoint     MountPoint
	// FetchGuestToken supplies the token the controller already holds
	FetchGuestToken func(ctx context.Context) (string, error)
	UI              UIConfig
}

// Widget is the external embedding capability
type Widget interface {
	Embed(ctx context.Context, cfg Config) (Handle, error)
}

// ErrorKind classifies an EmbedError
type ErrorKind string

const (
	KindUnavailable ErrorKind = "unavailable"
	KindRejected    ErrorKind = "rejected"
)

// EmbedError reports a failed mount attempt. The controller is back in Idle when it is set.
type EmbedError struct {
	Kind       ErrorKind
	Generation uint64
	Err        error
}

func (e *EmbedError) Error() string {
	if e.Kind == KindUnavailable {
		return "Error: Superset Embedded SDK not loaded correctly."
	}
	return fmt.Sprintf("Failed to embed dashboard: %v", e.Err)
}

func (e *EmbedError) Unwrap() error {
	return e.Err
}
