// Package bridge implements the client-side transport adapter between a
// Dynamic Virtual Channel host runtime and local named pipes: one pipe
// endpoint per active channel instance, with a bidirectional relay, bounded
// inbound buffering, and strict init-once / teardown-once plugin lifetime.
package bridge

import (
	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"

	"github.com/rdpipe-go/rdpipe/pkg/dvc"
)

// Plugin is the root object of the bridge: one per plugin instantiation by
// the host. It owns the shared Runtime and the channel registry, registers
// a listener per configured channel name at Initialize time, and tears the
// whole tree down exactly once at Terminated time (or when Shutdown is
// called directly).
//
// All dvc.Plugin methods are driven by host threads. They never block on
// remote I/O; Terminated blocks only on local cancellation of pipe work.
type Plugin struct {
	*asyncobj.Helper
	cfg *Config
	reg *registry

	// rt is created during activation, nil before Initialize succeeds.
	// Guarded by Lock.
	rt *Runtime

	// connected mirrors the host's session transport state. Guarded by
	// Lock. Informational; data flow is gated per-channel, not here.
	connected bool

	// initMgr carries the ChannelManager from Initialize into
	// HandleOnceActivate, which asyncobj invokes without arguments.
	// Guarded by Lock.
	initMgr dvc.ChannelManager
}

// New creates an unactivated Plugin. log may be nil for silent operation.
// cfg may be nil for defaults; the environment override for channel names
// is applied here.
func New(log logger.Logger, cfg *Config) *Plugin {
	if log == nil {
		log = logger.NilLogger
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.sanitize()
	cfg.ApplyEnv()
	p := &Plugin{
		cfg: cfg,
		reg: newRegistry(),
	}
	p.Helper = asyncobj.NewHelper(log.ForkLogStr("<Plugin>"), p)
	return p
}

func (p *Plugin) String() string {
	return "<Plugin>"
}

// Initialize implements dvc.Plugin. It registers one listener per
// configured channel name with the host's channel manager. Succeeds at most
// once; a second call fails with ErrAlreadyInitialized, and any call after
// shutdown has started fails with ErrNotInitialized.
func (p *Plugin) Initialize(mgr dvc.ChannelManager) error {
	if p.IsActivated() {
		return dvc.ErrAlreadyInitialized
	}
	p.Lock.Lock()
	p.initMgr = mgr
	p.Lock.Unlock()
	// asyncobj v1.1.0's DoOnceActivate dispatches to the object's
	// HandleOnceActivate whenever the callback argument is non-nil (and
	// would call a nil callback otherwise), so activation lives in
	// HandleOnceActivate and the callback here is a never-invoked
	// placeholder.
	err := p.DoOnceActivate(func() error { return nil }, false)
	if err != nil && p.IsStartedShutdown() && !p.IsActivated() {
		return dvc.ErrNotInitialized
	}
	return err
}

// HandleOnceActivate implements asyncobj.HandleOnceActivator. It runs
// exactly once, from Initialize via DoOnceActivate: it constructs the
// shared Runtime and registers one listener per configured channel name
// with the manager stashed by Initialize.
func (p *Plugin) HandleOnceActivate() error {
	p.Lock.Lock()
	mgr := p.initMgr
	p.Lock.Unlock()
	rt := newRuntime(p.Logger)
	p.Lock.Lock()
	p.rt = rt
	p.Lock.Unlock()
	for _, name := range p.cfg.ChannelNames {
		cb := newListenerCallback(p.Logger, p.cfg, p.reg, rt, name)
		if err := mgr.CreateListener(name, 0, cb); err != nil {
			return p.ELogErrorf("Listener registration for %q failed: %s", name, err)
		}
		p.ILogf("Listening for channel %q", name)
	}
	return nil
}

// Connected implements dvc.Plugin, called when the session transport comes
// up. Channels only ever appear while connected, so this is bookkeeping.
func (p *Plugin) Connected() error {
	if !p.IsActivated() {
		return dvc.ErrNotInitialized
	}
	p.Lock.Lock()
	p.connected = true
	p.Lock.Unlock()
	p.ILogf("Session transport connected")
	return nil
}

// Disconnected implements dvc.Plugin, called when the session transport
// drops. The host closes each channel individually around this event, so no
// channel teardown happens here.
func (p *Plugin) Disconnected(code uint32) error {
	if !p.IsActivated() {
		return dvc.ErrNotInitialized
	}
	p.Lock.Lock()
	p.connected = false
	p.Lock.Unlock()
	p.ILogf("Session transport disconnected (code 0x%08x)", code)
	return nil
}

// IsConnected reports the last transport state the host announced.
func (p *Plugin) IsConnected() bool {
	p.Lock.Lock()
	defer p.Lock.Unlock()
	return p.connected
}

// Terminated implements dvc.Plugin: the host is discarding the plugin.
// Closes every live channel (releasing its pipe resource and registry
// entry), then drains the Runtime. Idempotent against racing Shutdown
// calls; returns ErrNotInitialized if Initialize never succeeded.
func (p *Plugin) Terminated() error {
	if !p.IsActivated() {
		return dvc.ErrNotInitialized
	}
	p.ILogf("Terminating")
	return p.Shutdown(nil)
}

// ActiveChannels reports the names of the channel instances currently
// bridged, for diagnostics.
func (p *Plugin) ActiveChannels() []string {
	return p.reg.names()
}

// HandleOnceShutdown closes all live channels and then the Runtime. Channel
// shutdown removes each registry entry as its final step, so the registry
// is empty before the runtime drain begins.
func (p *Plugin) HandleOnceShutdown(completionErr error) error {
	channels := p.reg.snapshot()
	for _, c := range channels {
		c.closeFromBridge(dvc.ErrListenerClosed)
	}
	for _, c := range channels {
		c.WaitShutdown()
	}
	p.Lock.Lock()
	rt := p.rt
	p.Lock.Unlock()
	if rt != nil {
		rt.StartShutdown(nil)
		if err := rt.WaitShutdown(); err != nil && completionErr == nil {
			completionErr = err
		}
	}
	p.DLogf("Plugin torn down")
	return completionErr
}
