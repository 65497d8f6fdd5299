package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"

	"github.com/rdpipe-go/rdpipe/pkg/dvc"
)

// State is the bridge state of one channel instance.
type State int32

const (
	// StateOpen: pipe endpoint active with a client attached (or not yet
	// ever attached); data may flow in both directions.
	StateOpen State = iota
	// StateDraining: no pipe client is currently attached; inbound data
	// is buffered under the overflow policy while the endpoint re-arms.
	StateDraining
	// StateClosed: terminal; resources released, registry entry removed.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// channelWriter guards the host-supplied write handle. The handle is only
// valid until OnClose returns, so the guard is what guarantees no write can
// start after the channel is marked closed, and no close proceeds while a
// write is mid-flight: the mutex is held across vc.Write, and the close
// paths (markClosed on the OnClose thread included) block on it until any
// in-flight write drains. It also serializes writes, preserving outbound
// byte order. OnDataReceived never takes it.
type channelWriter struct {
	mu     sync.Mutex
	vc     dvc.VirtualChannel
	closed bool
}

func (w *channelWriter) write(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return dvc.ErrChannelClosed
	}
	if err := w.vc.Write(p); err != nil {
		return fmt.Errorf("%w: %v", dvc.ErrChannelClosed, err)
	}
	return nil
}

// markClosed invalidates the handle without calling into the host. Used on
// the host-initiated close path, where the host invalidates the handle
// itself as soon as OnClose returns.
func (w *channelWriter) markClosed() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// closeHandle invalidates the handle and issues a close request toward the
// host. Used on the bridge-initiated close path. The host call is made
// outside the lock.
func (w *channelWriter) closeHandle() {
	w.mu.Lock()
	alreadyClosed := w.closed
	w.closed = true
	vc := w.vc
	w.mu.Unlock()
	if !alreadyClosed && vc != nil {
		vc.Close()
	}
}

// Channel is one active channel instance: the bridge between a single
// virtual channel and its local pipe endpoint. It implements
// dvc.ChannelCallback; the host runtime drives OnDataReceived and OnClose
// on its own threads while the endpoint and relay run on the shared
// Runtime, so every piece of mutable state is behind its own guard.
type Channel struct {
	*asyncobj.Helper
	id          uuid.UUID
	channelName string
	name        string

	state int32 // State, atomic

	writer  *channelWriter
	inbound *inboundQueue
	ep      *pipeEndpoint
	reg     *registry
}

func newChannel(log logger.Logger, reg *registry, channelName string, vc dvc.VirtualChannel, capBytes int) *Channel {
	c := &Channel{
		id:          uuid.New(),
		channelName: channelName,
		writer:      &channelWriter{vc: vc},
		inbound:     newInboundQueue(capBytes),
		reg:         reg,
	}
	c.name = fmt.Sprintf("<Channel %q %s>", channelName, c.id)
	c.Helper = asyncobj.NewHelper(log.ForkLogStr(c.name), c)
	c.SetIsActivated()
	return c
}

func (c *Channel) String() string {
	return c.name
}

// ID is the process-unique identity of this instance. Channel names may
// recur over the process lifetime; IDs never do.
func (c *Channel) ID() uuid.UUID {
	return c.id
}

// Name is the host-assigned channel name.
func (c *Channel) Name() string {
	return c.channelName
}

// State reports the current bridge state.
func (c *Channel) State() State {
	return State(atomic.LoadInt32(&c.state))
}

func (c *Channel) setState(s State) {
	atomic.StoreInt32(&c.state, int32(s))
}

// OverflowCount reports how many inbound deliveries discarded buffered data
// because no pipe client was attached.
func (c *Channel) OverflowCount() uint64 {
	return c.inbound.overflowCount()
}

// setAttached is called by the pipe endpoint as clients come and go. The
// state transition is a compare-and-swap so StateClosed stays sticky when
// an accept races a close, and the inbound queue's put discipline follows
// the attachment.
func (c *Channel) setAttached(attached bool) {
	if attached {
		atomic.CompareAndSwapInt32(&c.state, int32(StateDraining), int32(StateOpen))
	} else {
		atomic.CompareAndSwapInt32(&c.state, int32(StateOpen), int32(StateDraining))
	}
	c.inbound.setBlocking(attached)
}

// OnDataReceived implements dvc.ChannelCallback. It runs on a host-owned
// thread and must not suspend beyond handing the bytes to the inbound
// queue: with a client attached a full queue briefly stalls the host (the
// only backpressure signal available upstream), with no client attached the
// queue drops oldest-first instead. A stall ends the moment the client
// detaches or the channel closes.
func (c *Channel) OnDataReceived(p []byte) error {
	if c.State() == StateClosed {
		// Protocol error on the host side; harmless at channel level.
		c.WLogf("Dropping %d bytes received on closed channel", len(p))
		return nil
	}
	dropped, err := c.inbound.put(p)
	if err != nil {
		// The channel closed while we were queueing; same as above.
		c.DLogf("Channel closed during data delivery; dropping %d bytes", len(p))
		return nil
	}
	if dropped > 0 {
		c.WLogf("%s: dropped %d oldest buffered bytes (no pipe client attached, overflow #%d)",
			dvc.ErrOverflow, dropped, c.inbound.overflowCount())
	}
	return nil
}

// OnClose implements dvc.ChannelCallback for a host-initiated close. The
// write handle dies the moment this returns, so everything that could touch
// it is stopped synchronously: the endpoint's pending accept and in-flight
// pipe I/O are cancelled, the relay terminates, the pipe resource is
// released, and the registry entry is removed -- all before returning. The
// wait is bounded: it blocks only on local cancellation, never remote I/O.
func (c *Channel) OnClose() error {
	c.ILogf("Host closed channel")
	c.writer.markClosed()
	return c.Shutdown(nil)
}

// closeFromBridge is the bridge-initiated close path, taken when the pipe
// side fails permanently. It requests close toward the host and then tears
// down; the host's eventual OnClose finds shutdown already complete.
func (c *Channel) closeFromBridge(reason error) {
	if c.IsStartedShutdown() {
		return
	}
	c.ILogf("Closing channel toward host: %v", reason)
	c.writer.closeHandle()
	c.StartShutdown(reason)
}

// HandleOnceShutdown runs exactly once, in its own goroutine. Ordering
// matters: invalidate the write handle, wake the inbound queue, stop the
// endpoint (which cancels the accept and stops the relay), and only then
// drop the registry entry, so the registry never exposes a half-destroyed
// instance.
func (c *Channel) HandleOnceShutdown(completionErr error) error {
	c.setState(StateClosed)
	c.writer.markClosed()
	c.inbound.close()
	if c.ep != nil {
		c.ep.StartShutdown(completionErr)
		if err := c.ep.WaitShutdown(); err != nil && completionErr == nil {
			completionErr = err
		}
	}
	c.reg.remove(c)
	c.DLogf("Channel torn down")
	return completionErr
}
