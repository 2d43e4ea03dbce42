package rbac

import (
	"context"
	"sync"
)

// GateState is the lifecycle position of a ClientGate.
type GateState int

const (
	GateLoading GateState = iota
	GateDenied
	GateAllowed
)

func (s GateState) String() string {
	switch s {
	case GateDenied:
		return "denied"
	case GateAllowed:
		return "allowed"
	default:
		return "loading"
	}
}

// PermissionSource lists the current session's permission slugs.
type PermissionSource interface {
	Fetch(ctx context.Context) ([]string, error)
}

// PermissionSourceFunc adapts a function to PermissionSource.
type PermissionSourceFunc func(ctx context.Context) ([]string, error)

func (f PermissionSourceFunc) Fetch(ctx context.Context) ([]string, error) {
	return f(ctx)
}

// ClientGate evaluates a requirement after an asynchronous permission fetch.
// It starts in GateLoading and moves to GateDenied or GateAllowed exactly once
// per Mount; only Refetch or a fresh Mount after Unmount start another fetch.
type ClientGate struct {
	source      PermissionSource
	requirement Requirement

	mu          sync.Mutex
	state       GateState
	mounted     bool
	seq         uint64
	done        *signal
	cancel      context.CancelFunc
	permissions PermissionSet
	err         error
}

// NewClientGate builds an unmounted gate.
func NewClientGate(source PermissionSource, req Requirement) (*ClientGate, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &ClientGate{source: source, requirement: req, done: newSignal()}, nil
}

// Mount starts the permission fetch. Calling it again while mounted is a no-op.
func (g *ClientGate) Mount(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mounted {
		return
	}
	g.mounted = true
	g.startLocked(ctx)
}

// Refetch discards the current result and fetches again.
func (g *ClientGate) Refetch(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mounted = true
	g.startLocked(ctx)
}

// Unmount cancels any in-flight fetch and resets the gate to loading.
func (g *ClientGate) Unmount() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancel != nil {
		g.cancel()
		g.cancel = nil
	}
	g.seq++
	g.mounted = false
	g.state = GateLoading
	g.permissions = nil
	g.err = nil
	previous := g.done
	g.done = newSignal()
	previous.fire()
}

func (g *ClientGate) startLocked(ctx context.Context) {
	if g.cancel != nil {
		g.cancel()
	}
	g.seq++
	seq := g.seq
	g.state = GateLoading
	g.permissions = nil
	g.err = nil
	previous := g.done
	done := newSignal()
	g.done = done
	// Waiters parked on a superseded fetch wake up and re-read the state.
	previous.fire()

	if g.requirement.IsZero() {
		g.state = GateAllowed
		g.permissions = PermissionSet{}
		g.cancel = nil
		done.fire()
		return
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	go func() {
		defer cancel()
		var (
			slugs []string
			err   error
		)
		if g.source == nil {
			err = ErrStoreUnavailable
		} else {
			slugs, err = g.source.Fetch(fetchCtx)
		}
		g.mu.Lock()
		defer g.mu.Unlock()
		defer done.fire()
		if seq != g.seq {
			return
		}
		g.cancel = nil
		if err != nil {
			g.err = err
			g.state = GateDenied
			return
		}
		g.permissions = NewPermissionSet(slugs)
		if g.requirement.SatisfiedBy(g.permissions) {
			g.state = GateAllowed
		} else {
			g.state = GateDenied
		}
	}()
}

// State reports the current lifecycle position.
func (g *ClientGate) State() GateState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Err returns the fetch error behind a GateDenied state, if any.
func (g *ClientGate) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Permissions returns the fetched set once resolved, nil while loading.
func (g *ClientGate) Permissions() PermissionSet {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.permissions
}

// Wait blocks until the gate leaves GateLoading or ctx ends.
func (g *ClientGate) Wait(ctx context.Context) (GateState, error) {
	for {
		g.mu.Lock()
		state, done := g.state, g.done
		g.mu.Unlock()
		if state != GateLoading {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return GateLoading, ctx.Err()
		case <-done.ch:
		}
	}
}

// Select picks what to show for the gate's current state.
func Select[T any](g *ClientGate, children, fallback, loading T) T {
	switch g.State() {
	case GateAllowed:
		return children
	case GateDenied:
		return fallback
	default:
		return loading
	}
}

type signal struct {
	ch   chan struct{}
	once sync.Once
}

func newSignal() *signal {
	return &signal{ch: make(chan struct{})}
}

func (s *signal) fire() {
	s.once.Do(func() { close(s.ch) })
}
