package bridge

import (
	"fmt"

	"github.com/sammck-go/logger"

	"github.com/rdpipe-go/rdpipe/pkg/dvc"
	"github.com/rdpipe-go/rdpipe/pkg/ipc"
)

// listenerCallback handles new channel connections for one registered
// channel name. The host invokes OnNewChannelConnection on its own thread
// each time a peer opens an instance of the channel; the callback builds
// the full bridge for that instance (pipe listener, channel, endpoint) or
// refuses the connection. Pipe creation is the fail-fast step: if the local
// endpoint cannot be created, the channel connection is refused so the host
// never sees a half-functional channel.
type listenerCallback struct {
	logger.Logger
	cfg         *Config
	reg         *registry
	rt          *Runtime
	channelName string
}

func newListenerCallback(log logger.Logger, cfg *Config, reg *registry, rt *Runtime, channelName string) *listenerCallback {
	return &listenerCallback{
		Logger:      log.ForkLogStr(fmt.Sprintf("<Listener %q>", channelName)),
		cfg:         cfg,
		reg:         reg,
		rt:          rt,
		channelName: channelName,
	}
}

// OnNewChannelConnection implements dvc.ListenerCallback. On success the
// returned callback is a *Channel that is already accepting pipe clients.
func (lc *listenerCallback) OnNewChannelConnection(vc dvc.VirtualChannel, data []byte) (dvc.ChannelCallback, error) {
	lc.ILogf("New channel connection (%d bytes of open payload)", len(data))

	path := ipc.PipePath(lc.cfg.PipeDir, lc.cfg.PipePrefix, lc.channelName)
	lcfg := ipc.ListenConfig{SecurityDescriptor: lc.cfg.SecurityDescriptor}
	nl, err := ipc.Listen(lc.Logger, path, lcfg)
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", dvc.ErrPipeCreationFailed, path, err)
		lc.WLogf("%s", err)
		return nil, err
	}

	c := newChannel(lc.Logger, lc.reg, lc.channelName, vc, lc.cfg.InboundBufferBytes)
	c.ep = newPipeEndpoint(lc.Logger, c, nl, path, lcfg, lc.cfg.ReadChunkBytes,
		lc.cfg.RearmMinDelay, lc.cfg.RearmMaxDelay)

	if err := lc.reg.add(c); err != nil {
		// A live instance already owns this name. Tear the half-built
		// bridge down (endpoint shutdown releases the listener) and
		// refuse.
		c.StartShutdown(err)
		c.WaitShutdown()
		lc.WLogf("%s", err)
		return nil, err
	}

	if err := c.ep.start(lc.rt); err != nil {
		// Plugin is tearing down; unwind the registration and refuse.
		c.StartShutdown(err)
		c.WaitShutdown()
		lc.DLogf("Refusing channel connection: %s", err)
		return nil, err
	}

	lc.ILogf("Channel %s bridged to %s", c.ID(), path)
	return c, nil
}
