package bridge

import (
	"errors"
	"testing"

	"github.com/rdpipe-go/rdpipe/pkg/dvc"
)

func newRegistryChannel(t *testing.T, reg *registry, name string) *Channel {
	t.Helper()
	c := newChannel(testLogger(t), reg, name, &fakeChannelEnd{}, 1<<16)
	t.Cleanup(func() {
		c.StartShutdown(nil)
		c.WaitShutdown()
	})
	return c
}

func TestRegistryAddRemove(t *testing.T) {
	reg := newRegistry()
	a := newRegistryChannel(t, reg, "alpha")
	b := newRegistryChannel(t, reg, "beta")
	if err := reg.add(a); err != nil {
		t.Fatalf("add(alpha) returned error: %s", err)
	}
	if err := reg.add(b); err != nil {
		t.Fatalf("add(beta) returned error: %s", err)
	}
	if n := reg.len(); n != 2 {
		t.Errorf("len() = %d, want 2", n)
	}
	if got, ok := reg.lookupName("alpha"); !ok || got != a {
		t.Errorf("lookupName(alpha) = %v, %v", got, ok)
	}
	reg.remove(a)
	if _, ok := reg.lookupName("alpha"); ok {
		t.Error("alpha still resolvable after remove")
	}
	if n := reg.len(); n != 1 {
		t.Errorf("len() = %d after remove, want 1", n)
	}
}

func TestRegistryDuplicateName(t *testing.T) {
	reg := newRegistry()
	a := newRegistryChannel(t, reg, "alpha")
	dup := newRegistryChannel(t, reg, "alpha")
	if err := reg.add(a); err != nil {
		t.Fatalf("add returned error: %s", err)
	}
	if err := reg.add(dup); !errors.Is(err, dvc.ErrPipeCreationFailed) {
		t.Errorf("duplicate add returned %v, want ErrPipeCreationFailed", err)
	}
	// The losing instance must not disturb the winner's entry.
	reg.remove(dup)
	if got, ok := reg.lookupName("alpha"); !ok || got != a {
		t.Errorf("winner's entry damaged by losing instance: %v, %v", got, ok)
	}
}

func TestRegistrySnapshot(t *testing.T) {
	reg := newRegistry()
	a := newRegistryChannel(t, reg, "alpha")
	b := newRegistryChannel(t, reg, "beta")
	reg.add(a)
	reg.add(b)
	snap := reg.snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot has %d entries, want 2", len(snap))
	}
	seen := map[*Channel]bool{}
	for _, c := range snap {
		seen[c] = true
	}
	if !seen[a] || !seen[b] {
		t.Error("snapshot is missing a live channel")
	}
}
