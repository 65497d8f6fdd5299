package bridge

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/jpillora/sizestr"
	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"
)

// writeHalfCloser is implemented by connections that can close their write
// side while reads continue (e.g. *net.UnixConn, winio pipe conns).
type writeHalfCloser interface {
	CloseWrite() error
}

// relay is the bidirectional copy engine for one accepted pipe connection.
// Two goroutines run until EOF, error, or cancellation: pipe-to-channel
// reads chunks from the connection and forwards each through the guarded
// channel write handle; channel-to-pipe drains the channel's inbound queue
// into the connection. The directions share nothing but the shutdown state;
// either one failing cancels the other. Bytes are never transformed and
// order within each direction is exactly input order.
type relay struct {
	*asyncobj.Helper
	name    string
	conn    net.Conn
	writer  *channelWriter
	inbound *inboundQueue
	chunk   int

	// stopChan is closed during shutdown to unblock the inbound drain.
	stopChan chan struct{}
	fwdWg    sync.WaitGroup

	// nbToChannel/nbToPipe are transfer totals, guarded by Lock.
	nbToChannel int64
	nbToPipe    int64
	// channelWriteFailed notes that the channel side is what died, so
	// the endpoint can distinguish "client went away" from "channel
	// gone". Guarded by Lock.
	channelWriteFailed bool
}

// newRelay starts relaying immediately; the caller observes completion via
// WaitShutdown. A nil completion means the pipe client disconnected
// cleanly. A completion matching dvc.ErrChannelClosed means the channel
// handle rejected a write and the channel itself should close.
func newRelay(log logger.Logger, c *Channel, conn net.Conn, chunk int) *relay {
	r := &relay{
		name:     fmt.Sprintf("<Relay %q>", c.Name()),
		conn:     conn,
		writer:   c.writer,
		inbound:  c.inbound,
		chunk:    chunk,
		stopChan: make(chan struct{}),
	}
	r.Helper = asyncobj.NewHelper(log.ForkLogStr(r.name), r)
	r.fwdWg.Add(2)
	r.SetIsActivated()
	go r.runPipeToChannel()
	go r.runChannelToPipe()
	go func() {
		r.fwdWg.Wait()
		r.StartShutdown(nil)
	}()
	return r
}

func (r *relay) String() string {
	return r.name
}

func (r *relay) runPipeToChannel() {
	defer r.fwdWg.Done()
	buf := make([]byte, r.chunk)
	for {
		nr, rerr := r.conn.Read(buf)
		if nr > 0 {
			if werr := r.writer.write(buf[:nr]); werr != nil {
				r.Lock.Lock()
				r.channelWriteFailed = true
				r.Lock.Unlock()
				r.DLogf("Channel write failed after %d bytes: %v", nr, werr)
				r.StartShutdown(werr)
				return
			}
			r.Lock.Lock()
			r.nbToChannel += int64(nr)
			r.Lock.Unlock()
		}
		if rerr != nil {
			if rerr == io.EOF || errors.Is(rerr, net.ErrClosed) {
				// Client disconnected; a clean end of this
				// connection, not a channel failure.
				r.StartShutdown(nil)
			} else {
				r.StartShutdown(rerr)
			}
			return
		}
	}
}

func (r *relay) runChannelToPipe() {
	defer r.fwdWg.Done()
	for {
		chunk, err := r.inbound.get(r.stopChan)
		if err != nil {
			if err == io.EOF {
				// Channel side is closing; give the client EOF
				// but let it finish writing to us.
				if whc, ok := r.conn.(writeHalfCloser); ok {
					whc.CloseWrite()
				}
			}
			return
		}
		if _, werr := r.conn.Write(chunk); werr != nil {
			if !errors.Is(werr, net.ErrClosed) {
				r.DLogf("Pipe write failed: %v", werr)
			}
			r.StartShutdown(nil)
			return
		}
		r.Lock.Lock()
		r.nbToPipe += int64(len(chunk))
		r.Lock.Unlock()
	}
}

// channelDead reports whether the relay ended because the channel write
// handle failed (as opposed to the pipe client going away).
func (r *relay) channelDead() bool {
	r.Lock.Lock()
	defer r.Lock.Unlock()
	return r.channelWriteFailed
}

// HandleOnceShutdown unblocks both directions, waits for them, and reports
// transfer totals.
func (r *relay) HandleOnceShutdown(completionErr error) error {
	close(r.stopChan)
	r.conn.Close()
	r.fwdWg.Wait()
	r.Lock.Lock()
	toChannel, toPipe := r.nbToChannel, r.nbToPipe
	r.Lock.Unlock()
	r.DLogf("Relay done (to channel %s, to pipe %s)",
		sizestr.ToString(toChannel), sizestr.ToString(toPipe))
	return completionErr
}
