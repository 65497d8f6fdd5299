package bridge

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rdpipe-go/rdpipe/pkg/dvc"
)

// registry is the process-wide map of live channel instances. It is mutated
// from two domains at once: host callback threads (insert on new channel,
// remove at the tail of close) and runtime tasks (remove when the bridge
// closes a channel itself). Lookups are concurrent; insert and remove are
// serialized. The lock is never held across pipe I/O or a call back into
// the host.
//
// An entry is present exactly while its channel has not completed teardown;
// removal is the last step of Channel.HandleOnceShutdown.
type registry struct {
	mu sync.RWMutex
	// byID is the authoritative set. Channel names are not guaranteed
	// unique over the process lifetime, so instances are keyed by id.
	byID map[uuid.UUID]*Channel
	// byName indexes the single live instance per name. Endpoint path
	// exclusivity (one pipe per name) keeps this one-to-one.
	byName map[string]*Channel
}

func newRegistry() *registry {
	return &registry{
		byID:   make(map[uuid.UUID]*Channel),
		byName: make(map[string]*Channel),
	}
}

func (r *registry) add(c *Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[c.channelName]; ok {
		return fmt.Errorf("%w: channel name %q already active", dvc.ErrPipeCreationFailed, c.channelName)
	}
	r.byID[c.id] = c
	r.byName[c.channelName] = c
	return nil
}

func (r *registry) remove(c *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, c.id)
	if r.byName[c.channelName] == c {
		delete(r.byName, c.channelName)
	}
}

func (r *registry) lookupName(name string) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

func (r *registry) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// snapshot returns the live channels at a point in time, so teardown can
// iterate without holding the lock while closing them.
func (r *registry) snapshot() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channels := make([]*Channel, 0, len(r.byID))
	for _, c := range r.byID {
		channels = append(channels, c)
	}
	return channels
}
