package bridge

import (
	"sync"

	"github.com/sammck-go/asyncobj"
	"github.com/sammck-go/logger"

	"github.com/rdpipe-go/rdpipe/pkg/dvc"
)

// Runtime is the process-wide execution context for asynchronous bridge
// work: pipe accept loops and relay copy loops all run on goroutines it
// tracks. It is created once, on the first plugin Initialize, outlives every
// channel instance, and is shut down only during plugin teardown after the
// channel registry has drained. Host callback threads never run on it; they
// only hand work off to it.
type Runtime struct {
	*asyncobj.Helper
	name string
	wg   sync.WaitGroup
}

func newRuntime(log logger.Logger) *Runtime {
	rt := &Runtime{name: "<Runtime>"}
	rt.Helper = asyncobj.NewHelper(log.ForkLogStr(rt.name), rt)
	rt.SetIsActivated()
	return rt
}

func (rt *Runtime) String() string {
	return rt.name
}

// Spawn runs task on a tracked goroutine. It fails with ErrNotInitialized
// once runtime shutdown has started, so no task can slip in after the
// plugin begins tearing down.
func (rt *Runtime) Spawn(name string, task func()) error {
	if err := rt.DeferShutdown(); err != nil {
		return dvc.ErrNotInitialized
	}
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		rt.TLogf("task %q starting", name)
		task()
		rt.TLogf("task %q done", name)
	}()
	rt.UndeferShutdown()
	return nil
}

// HandleOnceShutdown waits for every tracked task to finish. Tasks are
// expected to have been unblocked already by shutting down the objects they
// serve; the runtime itself has no way to interrupt them.
func (rt *Runtime) HandleOnceShutdown(completionErr error) error {
	rt.wg.Wait()
	return completionErr
}
