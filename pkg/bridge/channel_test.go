package bridge

import (
	"testing"
	"time"
)

func newTestChannel(t *testing.T, capBytes int) (*Channel, *fakeChannelEnd) {
	t.Helper()
	vc := &fakeChannelEnd{}
	c := newChannel(testLogger(t), newRegistry(), "RDPipe", vc, capBytes)
	t.Cleanup(func() {
		c.StartShutdown(nil)
		c.WaitShutdown()
	})
	return c, vc
}

func TestDataDeliveryUnblocksOnDetach(t *testing.T) {
	// With a client attached and the queue full, OnDataReceived stalls
	// the host as backpressure. If that client then detaches, the stall
	// must end and the delivery fall back to drop-oldest; the host thread
	// must never stay hung waiting on a queue nobody drains.
	c, _ := newTestChannel(t, 4)
	c.setAttached(true)
	if err := c.OnDataReceived([]byte("full")); err != nil {
		t.Fatalf("OnDataReceived returned error: %s", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := c.OnDataReceived([]byte("more")); err != nil {
			t.Errorf("OnDataReceived across detach returned error: %s", err)
		}
	}()

	select {
	case <-done:
		t.Fatal("OnDataReceived returned while the queue was full and a client was attached")
	case <-time.After(50 * time.Millisecond):
	}

	c.setAttached(false)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnDataReceived still blocked after the pipe client detached")
	}
	if n := c.OverflowCount(); n != 1 {
		t.Errorf("OverflowCount() = %d after detached delivery, want 1", n)
	}
}

func TestAttachDetachStateTransitions(t *testing.T) {
	c, _ := newTestChannel(t, 64)
	if st := c.State(); st != StateOpen {
		t.Fatalf("initial state is %s, want open", st)
	}
	c.setAttached(true)
	if st := c.State(); st != StateOpen {
		t.Errorf("state after attach is %s, want open", st)
	}
	c.setAttached(false)
	if st := c.State(); st != StateDraining {
		t.Errorf("state after detach is %s, want draining", st)
	}
	c.setAttached(true)
	if st := c.State(); st != StateOpen {
		t.Errorf("state after re-attach is %s, want open", st)
	}
}

func TestClosedStateSticky(t *testing.T) {
	// An accept racing a close must not resurrect the channel: once
	// Closed, attachment changes leave the state alone.
	c, _ := newTestChannel(t, 64)
	if err := c.Shutdown(nil); err != nil {
		t.Fatalf("Shutdown returned error: %s", err)
	}
	c.setAttached(true)
	if st := c.State(); st != StateClosed {
		t.Errorf("state after attach on closed channel is %s, want closed", st)
	}
	c.setAttached(false)
	if st := c.State(); st != StateClosed {
		t.Errorf("state after detach on closed channel is %s, want closed", st)
	}
}
