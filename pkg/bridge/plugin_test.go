package bridge

import (
	"net"
	"os"
	"testing"

	"github.com/rdpipe-go/rdpipe/pkg/dvc"
)

func TestPluginLifecycleOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PipeDir = t.TempDir()
	p := New(testLogger(t), cfg)

	if err := p.Connected(); err != dvc.ErrNotInitialized {
		t.Errorf("Connected before Initialize returned %v, want ErrNotInitialized", err)
	}
	if err := p.Disconnected(0); err != dvc.ErrNotInitialized {
		t.Errorf("Disconnected before Initialize returned %v, want ErrNotInitialized", err)
	}
	if err := p.Terminated(); err != dvc.ErrNotInitialized {
		t.Errorf("Terminated before Initialize returned %v, want ErrNotInitialized", err)
	}

	mgr := newFakeManager()
	if err := p.Initialize(mgr); err != nil {
		t.Fatalf("Initialize returned error: %s", err)
	}
	if err := p.Initialize(mgr); err != dvc.ErrAlreadyInitialized {
		t.Errorf("second Initialize returned %v, want ErrAlreadyInitialized", err)
	}
	if err := p.Connected(); err != nil {
		t.Errorf("Connected returned error: %s", err)
	}
	if !p.IsConnected() {
		t.Error("IsConnected() false after Connected")
	}
	if err := p.Disconnected(0x80004005); err != nil {
		t.Errorf("Disconnected returned error: %s", err)
	}
	if p.IsConnected() {
		t.Error("IsConnected() true after Disconnected")
	}
	if err := p.Terminated(); err != nil {
		t.Errorf("Terminated returned error: %s", err)
	}
}

func TestPluginRegistersConfiguredListeners(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChannelNames = []string{"alpha", "beta"}
	h := newTestHarness(t, cfg)
	for _, name := range cfg.ChannelNames {
		h.mgr.mu.Lock()
		_, ok := h.mgr.listeners[name]
		h.mgr.mu.Unlock()
		if !ok {
			t.Errorf("no listener registered for %q", name)
		}
	}
}

func TestPluginChannelNamesFromEnv(t *testing.T) {
	t.Setenv(EnvChannelNames, "first; second ;;third")
	cfg := DefaultConfig()
	cfg.PipeDir = t.TempDir()
	p := New(testLogger(t), cfg)
	defer p.Terminated()
	mgr := newFakeManager()
	if err := p.Initialize(mgr); err != nil {
		t.Fatalf("Initialize returned error: %s", err)
	}
	want := []string{"first", "second", "third"}
	for _, name := range want {
		mgr.mu.Lock()
		_, ok := mgr.listeners[name]
		mgr.mu.Unlock()
		if !ok {
			t.Errorf("no listener registered for env channel %q", name)
		}
	}
}

func TestPluginInitializeFailsWhenManagerRefuses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PipeDir = t.TempDir()
	p := New(testLogger(t), cfg)
	mgr := newFakeManager()
	mgr.failAll = true
	if err := p.Initialize(mgr); err == nil {
		t.Error("Initialize succeeded although listener registration failed")
	}
}

func TestPluginTerminatedClosesChannels(t *testing.T) {
	h := newTestHarness(t, nil)
	vc := &fakeChannelEnd{}
	h.mgr.openChannel(t, "RDPipe", vc)
	path := h.pipePath("RDPipe")

	conn := dialPipe(t, path)
	defer conn.Close()

	if err := h.plugin.Terminated(); err != nil {
		t.Fatalf("Terminated returned error: %s", err)
	}

	// Terminated is synchronous: when it returns every channel is torn
	// down and its pipe resource released.
	if n := h.plugin.reg.len(); n != 0 {
		t.Errorf("registry still has %d entries after Terminated", n)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket file still present after Terminated (stat err %v)", err)
	}
	if _, err := net.Dial("unix", path); err == nil {
		t.Error("endpoint still accepting connections after Terminated")
	}
	// Bridge-initiated close must request close toward the host.
	if n := vc.closeCount(); n != 1 {
		t.Errorf("VirtualChannel.Close called %d times, want 1", n)
	}
}

func TestPluginDefaultsWhenNilArgs(t *testing.T) {
	p := New(nil, nil)
	if err := p.Initialize(newFakeManager()); err != nil {
		t.Fatalf("Initialize returned error: %s", err)
	}
	defer p.Terminated()
	if got := p.cfg.PipePrefix; got == "" {
		t.Error("sanitize left PipePrefix empty")
	}
	if got := len(p.cfg.ChannelNames); got == 0 {
		t.Error("sanitize left ChannelNames empty")
	}
}
