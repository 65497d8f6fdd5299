//go:build windows

package ipc

import (
	"fmt"
	"net"
	"os"

	winio "github.com/Microsoft/go-winio"
	"github.com/sammck-go/logger"
)

// PipePath returns the deterministic named pipe path for a channel. dir is
// ignored on Windows; all named pipes live under \\.\pipe.
func PipePath(dir string, prefix string, channelName string) string {
	if prefix == "" {
		prefix = DefaultPipePrefix
	}
	return fmt.Sprintf(`\\.\pipe\%s_%d_%s`, prefix, os.Getpid(), channelName)
}

// Listen creates the named pipe server endpoint at path. The pipe is
// created exclusively; a second listener on the same path fails, which is
// how concurrent channels with colliding names are refused.
func Listen(log logger.Logger, path string, cfg ListenConfig) (net.Listener, error) {
	sddl := cfg.SecurityDescriptor
	if sddl == "" {
		sddl = DefaultSecurityDescriptor
	}
	nl, err := winio.ListenPipe(path, &winio.PipeConfig{
		SecurityDescriptor: sddl,
		InputBufferSize:    cfg.InputBufferSize,
		OutputBufferSize:   cfg.OutputBufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("named pipe listen failed for %q: %w", path, err)
	}
	if log != nil {
		log.DLogf("Listening on named pipe %q", path)
	}
	return nl, nil
}
