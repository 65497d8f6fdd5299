// Package ipc provides the local inter-process endpoint used to expose one
// virtual channel to client programs on the same machine.
//
// On Windows the endpoint is a named pipe served through go-winio, with
// access restricted by a security descriptor so that only principals with
// legitimate access to the local session can connect. On other platforms a
// unix domain socket guarded by a flock-style lockfile stands in, which
// keeps the package (and everything built on it) testable anywhere.
//
// Endpoint paths are deterministic: a client program that knows the channel
// name and the owning process id can compute the path with PipePath without
// any further coordination.
package ipc

// DefaultPipePrefix is the leading component of every endpoint name created
// by this module, unless overridden in ListenConfig.
const DefaultPipePrefix = "RdPipe"

// DefaultSecurityDescriptor grants full pipe access to the creating owner,
// the SYSTEM account and local administrators, and nobody else. SDDL form;
// only meaningful on Windows.
const DefaultSecurityDescriptor = "D:P(A;;GA;;;OW)(A;;GA;;;SY)(A;;GA;;;BA)"

// ListenConfig carries per-endpoint listener settings.
type ListenConfig struct {
	// SecurityDescriptor is an SDDL string restricting who may connect.
	// Empty selects DefaultSecurityDescriptor. Ignored on non-Windows
	// platforms, where socket file permissions apply instead.
	SecurityDescriptor string

	// InputBufferSize and OutputBufferSize size the OS pipe buffers on
	// Windows. Zero selects the winio defaults.
	InputBufferSize  int32
	OutputBufferSize int32
}
