package bridge

import (
	"fmt"
	"net"
	"time"

	"github.com/jpillora/backoff"
	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"

	"github.com/rdpipe-go/rdpipe/pkg/dvc"
	"github.com/rdpipe-go/rdpipe/pkg/ipc"
)

// maxRearmAttempts bounds consecutive listener re-creation failures before
// the endpoint gives up and closes its channel toward the host.
const maxRearmAttempts = 5

// pipeEndpoint owns the local pipe listening resource for one channel
// instance. Its accept loop runs on the shared Runtime with at most one
// accept outstanding; each accepted client gets one relay, and when that
// client disconnects the endpoint re-arms automatically -- immediately
// after a clean disconnect, behind a jittered backoff after transport
// errors. A permanent listener failure closes the owning channel.
type pipeEndpoint struct {
	*asyncobj.Helper
	name string
	path string
	lcfg ipc.ListenConfig
	ch    *Channel
	chunk int
	bo    *backoff.Backoff

	// nl and cur are guarded by Lock.
	nl  net.Listener
	cur *relay

	stopChan    chan struct{}
	loopDone    chan struct{}
	loopStarted bool
}

// newPipeEndpoint takes ownership of an already-created listener; creating
// it is the caller's synchronous, fail-fast step.
func newPipeEndpoint(log logger.Logger, c *Channel, nl net.Listener, path string, lcfg ipc.ListenConfig, chunk int, minDelay, maxDelay time.Duration) *pipeEndpoint {
	ep := &pipeEndpoint{
		name:  fmt.Sprintf("<PipeEndpoint %q>", c.Name()),
		path:  path,
		lcfg:  lcfg,
		ch:    c,
		chunk: chunk,
		nl:    nl,
		bo: &backoff.Backoff{
			Min:    minDelay,
			Max:    maxDelay,
			Jitter: true,
		},
		stopChan: make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	ep.Helper = asyncobj.NewHelper(log.ForkLogStr(ep.name), ep)
	ep.SetIsActivated()
	return ep
}

func (ep *pipeEndpoint) String() string {
	return ep.name
}

// start schedules the accept loop on the shared Runtime.
func (ep *pipeEndpoint) start(rt *Runtime) error {
	if err := rt.Spawn("pipe-accept "+ep.ch.Name(), ep.run); err != nil {
		return err
	}
	ep.Lock.Lock()
	ep.loopStarted = true
	ep.Lock.Unlock()
	return nil
}

func (ep *pipeEndpoint) listener() net.Listener {
	ep.Lock.Lock()
	defer ep.Lock.Unlock()
	return ep.nl
}

// run is the accept loop.
func (ep *pipeEndpoint) run() {
	defer close(ep.loopDone)
	for {
		if ep.IsStartedShutdown() {
			return
		}
		nl := ep.listener()
		if nl == nil {
			return
		}
		conn, err := nl.Accept()
		if err != nil {
			if ep.IsStartedShutdown() {
				ep.DLogf("Accept ended: %s", dvc.ErrListenerClosed)
				return
			}
			if !ep.rearm(err) {
				return
			}
			continue
		}
		ep.bo.Reset()
		ep.ILogf("Pipe client connected")

		r := newRelay(ep.Logger, ep.ch, conn, ep.chunk)
		ep.Lock.Lock()
		ep.cur = r
		ep.Lock.Unlock()
		ep.ch.setAttached(true)

		r.WaitShutdown()

		ep.ch.setAttached(false)
		ep.Lock.Lock()
		ep.cur = nil
		ep.Lock.Unlock()

		if r.channelDead() {
			// The channel handle rejected a write; the channel is
			// gone regardless of what the pipe side does next.
			ep.ch.closeFromBridge(dvc.ErrChannelClosed)
			return
		}
		if ep.IsStartedShutdown() {
			return
		}
		ep.ILogf("Pipe client disconnected; re-arming")
	}
}

// rearm replaces the listener after a transport error, pacing attempts with
// backoff. Returns false if the endpoint is shutting down or the failure is
// permanent (in which case the channel has been told to close).
func (ep *pipeEndpoint) rearm(cause error) bool {
	ep.WLogf("Pipe accept failed: %v; re-arming", cause)
	ep.Lock.Lock()
	old := ep.nl
	ep.nl = nil
	ep.Lock.Unlock()
	if old != nil {
		old.Close()
	}
	for attempt := 1; ; attempt++ {
		select {
		case <-time.After(ep.bo.Duration()):
		case <-ep.stopChan:
			return false
		}
		if ep.IsStartedShutdown() {
			return false
		}
		nl, err := ipc.Listen(ep.Logger, ep.path, ep.lcfg)
		if err == nil {
			ep.Lock.Lock()
			ep.nl = nl
			ep.Lock.Unlock()
			return true
		}
		ep.WLogf("Re-arm attempt %d failed: %v", attempt, err)
		if attempt >= maxRearmAttempts {
			ep.ELogf("Endpoint cannot be re-armed; closing channel")
			ep.ch.closeFromBridge(fmt.Errorf("%w: %v", dvc.ErrPipeCreationFailed, err))
			return false
		}
	}
}

// HandleOnceShutdown cancels the pending accept and any in-flight relay
// I/O, releases the pipe resource, and waits for the accept loop to exit.
// Everything it blocks on is local and bounded.
func (ep *pipeEndpoint) HandleOnceShutdown(completionErr error) error {
	close(ep.stopChan)
	ep.Lock.Lock()
	nl := ep.nl
	ep.nl = nil
	r := ep.cur
	started := ep.loopStarted
	ep.Lock.Unlock()
	if nl != nil {
		nl.Close()
	}
	if r != nil {
		r.StartShutdown(completionErr)
		r.WaitShutdown()
	}
	if started {
		<-ep.loopDone
	}
	return completionErr
}
