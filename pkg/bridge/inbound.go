package bridge

import (
	"io"
	"sync"

	"github.com/rdpipe-go/rdpipe/pkg/dvc"
)

// inboundQueue buffers channel-to-pipe data. The host delivers inbound
// bytes on its own threads with no flow control of its own, so the queue is
// strictly bounded in bytes and has two put disciplines, selected by the
// queue's current mode:
//
//   - blocking (a pipe client is attached): a full queue stalls the caller
//     until the relay drains it, making host callback latency the
//     backpressure signal;
//   - dropping (no client attached): oldest chunks are discarded to make
//     room, and each put that had to discard counts one overflow.
//
// The mode is queue state, not a per-put argument, because it can change
// while a put is waiting: a client detaching mid-wait must flip the put to
// the dropping path, since nothing will drain the queue anymore.
//
// Chunk boundaries are preserved only as an implementation detail; byte
// order within the queue is exactly arrival order.
type inboundQueue struct {
	mu       sync.Mutex
	chunks   [][]byte
	size     int
	capBytes int
	// blocking selects the put discipline; toggled as clients come and go.
	blocking bool
	// overflows counts puts that discarded data while detached.
	overflows uint64
	closed    bool

	// dataReady, spaceReady and modeChanged carry wakeup hints; closeChan
	// is closed exactly once when the queue is closed.
	dataReady   chan struct{}
	spaceReady  chan struct{}
	modeChanged chan struct{}
	closeChan   chan struct{}
}

func newInboundQueue(capBytes int) *inboundQueue {
	return &inboundQueue{
		capBytes:    capBytes,
		dataReady:   make(chan struct{}, 1),
		spaceReady:  make(chan struct{}, 1),
		modeChanged: make(chan struct{}, 1),
		closeChan:   make(chan struct{}),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// setBlocking switches the put discipline. Any waiting put is woken so the
// attached-to-detached edge turns a blocked put into a dropping one instead
// of leaving the host callback thread stalled on a queue nobody drains.
func (q *inboundQueue) setBlocking(block bool) {
	q.mu.Lock()
	q.blocking = block
	q.mu.Unlock()
	signal(q.modeChanged)
}

// put copies p into the queue. In blocking mode it waits for room; the wait
// ends early if the queue leaves blocking mode (falling through to the
// dropping path) or with dvc.ErrChannelClosed if the queue is closed. In
// dropping mode it returns the number of bytes discarded to make room.
func (q *inboundQueue) put(p []byte) (dropped int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	buf := make([]byte, len(p))
	copy(buf, p)

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return 0, dvc.ErrChannelClosed
		}
		// An empty queue always accepts, even an oversized chunk;
		// otherwise a single put larger than the capacity could
		// never complete.
		if q.size == 0 || q.size+len(buf) <= q.capBytes {
			q.chunks = append(q.chunks, buf)
			q.size += len(buf)
			q.mu.Unlock()
			signal(q.dataReady)
			return dropped, nil
		}
		if !q.blocking {
			for q.size > 0 && q.size+len(buf) > q.capBytes {
				oldest := q.chunks[0]
				q.chunks = q.chunks[1:]
				q.size -= len(oldest)
				dropped += len(oldest)
			}
			q.overflows++
			q.chunks = append(q.chunks, buf)
			q.size += len(buf)
			q.mu.Unlock()
			signal(q.dataReady)
			return dropped, nil
		}
		q.mu.Unlock()
		select {
		case <-q.spaceReady:
		case <-q.modeChanged:
		case <-q.closeChan:
			return 0, dvc.ErrChannelClosed
		}
	}
}

// get removes and returns the next chunk in arrival order, waiting for data
// if the queue is empty. It returns io.EOF once the queue is closed and
// drained, and the sentinel stop error if stop is signalled first.
func (q *inboundQueue) get(stop <-chan struct{}) ([]byte, error) {
	for {
		q.mu.Lock()
		if len(q.chunks) > 0 {
			chunk := q.chunks[0]
			q.chunks = q.chunks[1:]
			q.size -= len(chunk)
			q.mu.Unlock()
			signal(q.spaceReady)
			return chunk, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, io.EOF
		}
		select {
		case <-q.dataReady:
		case <-q.closeChan:
			// Loop once more to drain anything racing in.
		case <-stop:
			return nil, dvc.ErrListenerClosed
		}
	}
}

// overflowCount reports how many puts discarded data so far.
func (q *inboundQueue) overflowCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.overflows
}

// buffered reports the number of bytes currently queued.
func (q *inboundQueue) buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// close wakes all waiters. Further puts fail; gets drain the remainder and
// then report io.EOF. Idempotent.
func (q *inboundQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.closeChan)
}
