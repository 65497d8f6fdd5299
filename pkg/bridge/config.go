package bridge

import (
	"os"
	"strings"
	"time"

	"github.com/rdpipe-go/rdpipe/pkg/ipc"
)

// EnvChannelNames is the environment variable holding a semicolon-separated
// list of channel names to listen for, overriding Config.ChannelNames.
const EnvChannelNames = "RD_PIPE_CHANNELS"

// Config carries the plugin-wide settings. Zero values select defaults.
type Config struct {
	// ChannelNames are the channel names to register listeners for at
	// Initialize time.
	ChannelNames []string

	// PipeDir is the directory for endpoint socket files on platforms
	// that use filesystem sockets. Ignored on Windows.
	PipeDir string

	// PipePrefix is the leading component of every endpoint name.
	PipePrefix string

	// SecurityDescriptor restricts who may connect to the endpoints
	// (SDDL, Windows only).
	SecurityDescriptor string

	// InboundBufferBytes bounds how much channel data is held for the
	// pipe side. While a pipe client is attached a full buffer applies
	// backpressure to the host; while detached, oldest data is dropped.
	InboundBufferBytes int

	// ReadChunkBytes is the per-read buffer size on the pipe side.
	ReadChunkBytes int

	// RearmMinDelay and RearmMaxDelay bound the backoff between pipe
	// endpoint re-arm attempts after a transport error. A clean client
	// disconnect re-arms immediately.
	RearmMinDelay time.Duration
	RearmMaxDelay time.Duration
}

// DefaultConfig returns the default plugin configuration.
func DefaultConfig() *Config {
	return &Config{
		ChannelNames:       []string{"RDPipe"},
		PipePrefix:         ipc.DefaultPipePrefix,
		InboundBufferBytes: 1 << 20,
		ReadChunkBytes:     4096,
		RearmMinDelay:      50 * time.Millisecond,
		RearmMaxDelay:      2 * time.Second,
	}
}

// ApplyEnv overrides c from the process environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvChannelNames); v != "" {
		var names []string
		for _, name := range strings.Split(v, ";") {
			name = strings.TrimSpace(name)
			if name != "" {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			c.ChannelNames = names
		}
	}
}

// sanitize fills in zero values. Called once by New; the config is not
// consulted for defaults after that.
func (c *Config) sanitize() {
	d := DefaultConfig()
	if len(c.ChannelNames) == 0 {
		c.ChannelNames = d.ChannelNames
	}
	if c.PipePrefix == "" {
		c.PipePrefix = d.PipePrefix
	}
	if c.InboundBufferBytes <= 0 {
		c.InboundBufferBytes = d.InboundBufferBytes
	}
	if c.ReadChunkBytes <= 0 {
		c.ReadChunkBytes = d.ReadChunkBytes
	}
	if c.RearmMinDelay <= 0 {
		c.RearmMinDelay = d.RearmMinDelay
	}
	if c.RearmMaxDelay < c.RearmMinDelay {
		c.RearmMaxDelay = d.RearmMaxDelay
	}
}
