package dvc

import "errors"

// Sentinel errors for the plugin lifecycle and transport taxonomy. They are
// matched with errors.Is; wrapping with fmt.Errorf("%w: ...") is the normal
// way to add context.
var (
	// ErrNotInitialized is returned from any plugin entry point invoked
	// before Initialize or after Terminated.
	ErrNotInitialized = errors.New("plugin is not initialized")

	// ErrAlreadyInitialized is returned from a second Initialize before
	// Terminated.
	ErrAlreadyInitialized = errors.New("plugin is already initialized")

	// ErrPipeCreationFailed indicates the local pipe endpoint for a new
	// channel could not be created (name collision, resource
	// exhaustion). Surfaced to the host as a connection refusal.
	ErrPipeCreationFailed = errors.New("pipe endpoint creation failed")

	// ErrChannelClosed indicates the virtual channel write handle is no
	// longer usable.
	ErrChannelClosed = errors.New("virtual channel is closed")

	// ErrOverflow records that bounded inbound buffering dropped
	// oldest-first data because no pipe client was attached.
	ErrOverflow = errors.New("inbound buffer overflow")

	// ErrListenerClosed is returned from a pipe accept that ended
	// because the endpoint was cleanly shut down, as opposed to a
	// transport failure.
	ErrListenerClosed = errors.New("pipe listener was closed")
)
