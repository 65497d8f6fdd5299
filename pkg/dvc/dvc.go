// Package dvc declares the contract between a Dynamic Virtual Channel (DVC)
// host runtime and a client-side plugin.
//
// The host runtime (e.g., a remote desktop client) loads the plugin, hands it
// a ChannelManager at Initialize time, and from then on drives the plugin
// entirely through callbacks. Callbacks arrive on threads owned and scheduled
// by the host; the host may invoke them concurrently across channels and
// reentrantly for a single channel. Implementations must provide their own
// synchronization and must return promptly--a callback entry point is never
// allowed to block on remote I/O.
package dvc

// VirtualChannel is the host-supplied write handle for one active channel.
// It is valid from the moment it is passed to OnNewChannelConnection until
// the corresponding ChannelCallback.OnClose returns; it must never be used
// after that.
type VirtualChannel interface {
	// Write sends p toward the remote end of the channel. The host takes
	// its own copy of p before returning. A failed write indicates the
	// channel is no longer usable.
	Write(p []byte) error

	// Close asks the host to close the channel. The host acknowledges by
	// invoking ChannelCallback.OnClose at some later point.
	Close() error
}

// ChannelCallback is implemented by the plugin, one instance per active
// channel. The host calls it on host-owned threads.
type ChannelCallback interface {
	// OnDataReceived delivers one chunk of inbound channel data. The
	// buffer is only valid for the duration of the call; implementations
	// must copy what they keep.
	OnDataReceived(p []byte) error

	// OnClose notifies the plugin that the channel is closing. The
	// VirtualChannel handle becomes invalid the instant this call
	// returns, so any in-flight use of it must be stopped first.
	OnClose() error
}

// ListenerCallback is implemented by the plugin, one instance per channel
// name the plugin listens for.
type ListenerCallback interface {
	// OnNewChannelConnection is invoked once per new channel connection.
	// Returning a non-nil error refuses the connection. On success the
	// returned ChannelCallback receives all further events for the
	// channel. data carries optional host-specific connect blob bytes.
	OnNewChannelConnection(ch VirtualChannel, data []byte) (ChannelCallback, error)
}

// ChannelManager is the host object the plugin registers its listeners with
// during Plugin.Initialize.
type ChannelManager interface {
	// CreateListener asks the host to notify cb whenever a channel with
	// the given name is opened by the remote end.
	CreateListener(name string, flags uint32, cb ListenerCallback) error
}

// Plugin is the process-wide entry point the host runtime holds.
// The lifecycle is strictly init-once / teardown-once: Initialize must be
// the first call, Terminated the last, and every entry point outside that
// window fails with ErrNotInitialized.
type Plugin interface {
	// Initialize is called exactly once after the plugin is loaded.
	Initialize(mgr ChannelManager) error

	// Connected notifies the plugin that the session transport is up.
	Connected() error

	// Disconnected notifies the plugin that the session transport went
	// down with the given host-defined code. Channels may still be
	// closed individually afterward.
	Disconnected(code uint32) error

	// Terminated is called exactly once before the host unloads the
	// plugin. When it returns, every channel must be torn down and no
	// plugin code may be running, because the host is free to unload
	// the plugin's code immediately.
	Terminated() error
}
