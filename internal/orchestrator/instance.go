package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
)

// State is the lifecycle position of an Instance.
type State int32

const (
	StateCreated State = iota
	StateBinding
	StateServing
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateBinding:
		return "binding"
	case StateServing:
		return "serving"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// exitFunc is called exactly once when an instance's serve goroutine ends.
// err is nil after a requested stop.
type exitFunc func(inst *Instance, err error)

// Instance is one running HTTP file server for a network.
type Instance struct {
	id        uint64
	network   domain.Network
	addresses []domain.Address
	startedAt time.Time

	state    atomic.Int32
	server   *http.Server
	listener net.Listener

	drainTimeout time.Duration
	forced       atomic.Bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
	err      error

	logger *zap.Logger
}

func newInstance(id uint64, network domain.Network, handler http.Handler, readHeaderTimeout, drainTimeout time.Duration, logger *zap.Logger) *Instance {
	inst := &Instance{
		id:           id,
		network:      network,
		drainTimeout: drainTimeout,
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
		logger:       logger,
	}
	inst.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          zap.NewStdLog(logger),
	}
	return inst
}

// ID returns the instance id
func (i *Instance) ID() uint64 { return i.id }

// Network returns the network name
func (i *Instance) Network() string { return i.network.Name }

// State returns the current lifecycle state
func (i *Instance) State() State { return State(i.state.Load()) }

// Group returns the public snapshot of the instance.
func (i *Instance) Group() domain.ServerGroup {
	return domain.ServerGroup{
		ID:        i.id,
		Addresses: append([]domain.Address(nil), i.addresses...),
		StartedAt: i.startedAt,
	}
}

// Port returns the bound port, or 0 before bind.
func (i *Instance) Port() int {
	if i.listener == nil {
		return 0
	}
	if addr, ok := i.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// bind opens the listening socket. On failure the instance is Stopped.
func (i *Instance) bind(host string, port int) error {
	i.state.Store(int32(StateBinding))

	l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		i.state.Store(int32(StateStopped))
		close(i.done)
		return fmt.Errorf("%w: %v", ErrBind, err)
	}
	i.listener = l
	i.startedAt = time.Now().UTC()
	return nil
}

// run serves until stop is requested or serving fails, then calls onExit.
// It must only be called after a successful bind.
func (i *Instance) run(onExit exitFunc) {
	var runErr error
	defer func() {
		if r := recover(); r != nil {
			runErr = fmt.Errorf("instance panic: %v", r)
			_ = i.server.Close()
		}
		i.err = runErr
		i.state.Store(int32(StateStopped))
		close(i.done)
		if onExit != nil {
			onExit(i, runErr)
		}
	}()

	i.state.Store(int32(StateServing))
	i.logger.Info("Instance serving",
		zap.Uint64("id", i.id),
		zap.String("network", i.network.Name),
		zap.Int("port", i.Port()),
	)

	serveErr := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				serveErr <- fmt.Errorf("serve panic: %v", r)
			}
		}()
		serveErr <- i.server.Serve(i.listener)
	}()

	select {
	case <-i.stopCh:
		runErr = i.drain()
		<-serveErr
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("serve: %w", err)
		}
	}
}

// drain stops accepting connections and waits for in-flight requests up to
// the drain timeout, then closes whatever is left. A zero timeout closes
// idle connections and forces only the ones still active.
func (i *Instance) drain() error {
	i.state.Store(int32(StateDraining))

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if i.drainTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), i.drainTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
		cancel()
	}
	defer cancel()

	err := i.server.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		i.forced.Store(true)
		i.logger.Warn("Drain timeout exceeded, closing remaining connections",
			zap.Uint64("id", i.id),
			zap.Duration("timeout", i.drainTimeout),
		)
		return i.server.Close()
	}
	return err
}

// Stop asks the instance to shut down. It reports false when the instance
// had already exited.
func (i *Instance) Stop() bool {
	select {
	case <-i.done:
		return false
	default:
	}
	i.stopOnce.Do(func() { close(i.stopCh) })
	return true
}

// Done is closed once the instance has fully stopped.
func (i *Instance) Done() <-chan struct{} { return i.done }

// Wait blocks until the instance has stopped or ctx ends.
func (i *Instance) Wait(ctx context.Context) error {
	select {
	case <-i.done:
		return i.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Forced reports whether stopping had to close connections that were
// still active.
func (i *Instance) Forced() bool { return i.forced.Load() }
