package lua

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/lifxd/internal/eventbus"
	"github.com/dokzlo13/lifxd/internal/lifx"
	"github.com/dokzlo13/lifxd/internal/lua/modules"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = fmt.Errorf("lua runtime closed")

// DefaultQueueSize is the work queue capacity
const DefaultQueueSize = 100

// LuaWork represents work to be executed on the Lua VM.
// All Lua execution MUST go through this to ensure thread safety.
type LuaWork func(ctx context.Context)

// Runtime manages the Lua VM with single-threaded execution
type Runtime struct {
	L      *lua.LState
	client *lifx.Client

	lifxModule  *modules.LifxModule
	timerModule *modules.TimerModule

	// Work queue for thread-safe Lua execution
	workQueue chan LuaWork

	// closing is closed once; Do/DoSync select on it so shutdown is race-free
	closing   chan struct{}
	closeOnce sync.Once
	started   atomic.Bool
	done      chan struct{}
	stateOnce sync.Once
}

// NewRuntime creates a Lua runtime bound to a LIFX client
func NewRuntime(client *lifx.Client, queueSize int) *Runtime {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	r := &Runtime{
		L:         lua.NewState(),
		client:    client,
		workQueue: make(chan LuaWork, queueSize),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	r.registerModules()

	return r
}

// Close stops accepting work, waits for the worker to exit and closes the VM
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
		r.timerModule.Close()
	})
	if r.started.Load() {
		<-r.done
	}
	r.stateOnce.Do(r.L.Close)
}

// Do queues work to be executed on the Lua VM (thread-safe, non-blocking).
// Returns false if the runtime is closing, queue is full, or context is cancelled.
func (r *Runtime) Do(ctx context.Context, work LuaWork) bool {
	select {
	case <-r.closing:
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	case <-ctx.Done():
		log.Warn().Msg("Context cancelled, dropping Lua work")
		return false
	case r.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Lua work queue full, dropping work")
		return false
	}
}

// DoSyncWithResult queues work, waits for space, and waits for the result
func (r *Runtime) DoSyncWithResult(ctx context.Context, work func(context.Context) error) error {
	done := make(chan error, 1)
	wrappedWork := LuaWork(func(c context.Context) {
		done <- work(c)
	})

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- wrappedWork:
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// registerModules registers all Lua modules
func (r *Runtime) registerModules() {
	logModule := modules.NewLogModule()
	r.L.PreloadModule("log", logModule.Loader)

	// Reply callbacks and timers fire on other goroutines and hop back here
	schedule := func(fn func(L *lua.LState)) bool {
		return r.Do(context.Background(), func(context.Context) { fn(r.L) })
	}

	r.lifxModule = modules.NewLifxModule(r.client, schedule)
	r.L.PreloadModule("lifx", r.lifxModule.Loader)

	r.timerModule = modules.NewTimerModule(schedule)
	r.L.PreloadModule("timer", r.timerModule.Loader)
}

// Run starts the Lua worker goroutine - this is the ONLY goroutine that touches Lua.
// Exits when context is cancelled or runtime is closed.
func (r *Runtime) Run(ctx context.Context) {
	r.started.Store(true)
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			r.drainQueue(ctx)
			return
		case <-r.closing:
			r.drainQueue(ctx)
			return
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		}
	}
}

// drainQueue processes any remaining work in the queue before exiting
func (r *Runtime) drainQueue(ctx context.Context) {
	for {
		select {
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		default:
			return
		}
	}
}

// executeWork runs a single work item with panic recovery
func (r *Runtime) executeWork(ctx context.Context, work LuaWork) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Lua work panicked - worker continuing")
		}
	}()
	// Set context on LState so modules can access it via L.Context()
	r.L.SetContext(ctx)
	work(ctx)
}

// LoadScript executes a Lua script (must be called before Run)
func (r *Runtime) LoadScript(path string) error {
	log.Info().Str("path", path).Msg("Loading Lua script")

	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}

	log.Info().Msg("Lua script loaded successfully")
	return nil
}

// LoadString executes Lua source (must be called before Run)
func (r *Runtime) LoadString(source string) error {
	if err := r.L.DoString(source); err != nil {
		return fmt.Errorf("failed to execute Lua source: %w", err)
	}
	return nil
}

// HandleEvent forwards a bus event to handlers registered with lifx.on
func (r *Runtime) HandleEvent(ev eventbus.Event) {
	if !r.lifxModule.HasHandlers(string(ev.Type)) {
		return
	}
	r.Do(context.Background(), func(context.Context) {
		r.lifxModule.Emit(r.L, string(ev.Type), ev.Data)
	})
}
