//go:build !windows

package ipc

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/sammck-go/logger"
)

// PipePath returns the deterministic endpoint path for a channel. On
// non-Windows platforms the endpoint is a unix domain socket file under dir
// (os.TempDir() if dir is empty).
func PipePath(dir string, prefix string, channelName string) string {
	if prefix == "" {
		prefix = DefaultPipePrefix
	}
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("%s_%d_%s.sock", prefix, os.Getpid(), channelName))
}

// Listen creates the endpoint at path as a unix domain socket guarded by a
// ".lock" lockfile. The flock on the lockfile is what makes creation
// exclusive: a live listener holds it, so a colliding channel name fails
// fast, while a socket file orphaned by a crashed process can be reclaimed
// because its lock is gone.
func Listen(log logger.Logger, path string, cfg ListenConfig) (net.Listener, error) {
	if log == nil {
		log = logger.NilLogger
	}
	l := &lockedSocketListener{
		Logger: log.ForkLogStr(fmt.Sprintf("<PipeListener %q>", path)),
		done:   make(chan struct{}),
	}

	abspath, err := filepath.Abs(path)
	if err != nil {
		return nil, l.Errorf("Invalid socket path %q: %s", path, err)
	}
	l.path = abspath
	l.lockPath = abspath + ".lock"

	lockFile, err := os.OpenFile(l.lockPath, os.O_WRONLY|os.O_CREATE, 0o600)
	if err != nil {
		return nil, l.Errorf("Unable to open lockfile %q: %s", l.lockPath, err)
	}
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lockFile.Close()
		return nil, l.Errorf("Endpoint %q is in use (lockfile held): %s", abspath, err)
	}
	l.lockFile = lockFile

	// We hold the lock, so any existing socket file is an orphan from a
	// process that died without cleanup.
	if info, err := os.Stat(abspath); err == nil {
		if info.Mode()&os.ModeSocket == 0 {
			l.Close()
			return nil, l.Errorf("Path %q exists and is not a socket", abspath)
		}
		if err := os.Remove(abspath); err != nil {
			l.Close()
			return nil, l.Errorf("Unable to remove orphaned socket %q: %s", abspath, err)
		}
		l.DLogf("Reclaimed orphaned socket %q", abspath)
	} else if !os.IsNotExist(err) {
		l.Close()
		return nil, l.Errorf("Could not stat %q: %s", abspath, err)
	}

	nl, err := net.Listen("unix", abspath)
	if err != nil {
		l.Close()
		return nil, l.Errorf("Listen failed for %q: %s", abspath, err)
	}
	l.nl = nl
	l.DLogf("Listening on unix socket %q", abspath)
	return l, nil
}

// lockedSocketListener is a net.Listener over a unix domain socket plus the
// lockfile that makes its pathname exclusive process-wide.
type lockedSocketListener struct {
	logger.Logger
	path     string
	lockPath string
	lockFile *os.File
	nl       net.Listener

	mu       sync.Mutex
	closed   bool
	closeErr error
	done     chan struct{}
}

// Accept waits for the next client connection.
func (l *lockedSocketListener) Accept() (net.Conn, error) {
	return l.nl.Accept()
}

// Addr reports the socket address.
func (l *lockedSocketListener) Addr() net.Addr {
	if l.nl == nil {
		return nil
	}
	return l.nl.Addr()
}

// Close shuts the listener, removes the socket file, and releases the
// lockfile. Safe to call more than once; later calls wait for the first and
// return the same result.
func (l *lockedSocketListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return l.closeErr
	}
	l.closed = true
	l.mu.Unlock()

	var firstErr error
	if l.nl != nil {
		os.Remove(l.path)
		firstErr = l.nl.Close()
	}
	if l.lockFile != nil {
		// Remove the lockfile just before releasing the lock; a new
		// listener recreating it at that point is fine, the flock is
		// what arbitrates.
		os.Remove(l.lockPath)
		if err := syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN); err != nil && firstErr == nil {
			firstErr = l.DLogErrorf("Unlock of %q failed: %s", l.lockPath, err)
		}
		if err := l.lockFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.closeErr = firstErr
	close(l.done)
	return firstErr
}
