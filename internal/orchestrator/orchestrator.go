// Package orchestrator starts, tracks and stops the HTTP file-serving
// instances. Each instance serves one network on its own port and runs in
// its own goroutine; the Registry maps network names to running instances.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
	"github.com/sirosfoundation/go-linkshare/internal/events"
	"github.com/sirosfoundation/go-linkshare/internal/fileserver"
	"github.com/sirosfoundation/go-linkshare/internal/netaddr"
	"github.com/sirosfoundation/go-linkshare/pkg/config"
)

// NamePolicy decides what happens when a network that already has an
// instance is started again.
type NamePolicy string

const (
	// NamePolicyMultiplex runs another instance alongside the existing ones.
	NamePolicyMultiplex NamePolicy = "multiplex"
	// NamePolicyReject refuses the start with ErrNetworkBusy.
	NamePolicyReject NamePolicy = "reject"
)

// Config controls how instances bind and shut down.
type Config struct {
	// BindHost is the interface instances listen on. Empty or unspecified
	// (0.0.0.0, ::) means all interfaces.
	BindHost string
	// DrainTimeout bounds graceful shutdown; 0 closes connections at once.
	DrainTimeout      time.Duration
	ReadHeaderTimeout time.Duration
	NamePolicy        NamePolicy
	// PortMin and PortMax enable a managed port range when both are set.
	PortMin int
	PortMax int
}

// ConfigFrom maps the instances section of the daemon config.
func ConfigFrom(cfg config.InstancesConfig) Config {
	return Config{
		BindHost:          cfg.BindHost,
		DrainTimeout:      cfg.DrainTimeout(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout(),
		NamePolicy:        NamePolicy(cfg.NamePolicy),
		PortMin:           cfg.PortMin,
		PortMax:           cfg.PortMax,
	}
}

// AddressResolver lists the addresses an instance bound to all interfaces
// on port is reachable at.
type AddressResolver func(port uint16) []domain.Address

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithPublisher sends lifecycle events to p.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithMetrics records lifecycle metrics in m.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithAddressResolver replaces interface discovery.
func WithAddressResolver(r AddressResolver) Option {
	return func(o *Orchestrator) { o.resolve = r }
}

type modeHandler func(ctx context.Context, network domain.Network) (*domain.ServerGroup, error)

// Orchestrator is the control surface for file-serving instances.
type Orchestrator struct {
	cfg    Config
	logger *zap.Logger

	registry  *Registry
	ids       IDAllocator
	ports     *PortManager
	publisher events.Publisher
	metrics   *Metrics
	resolve   AddressResolver
	modes     map[domain.ServerMode]modeHandler

	closing atomic.Bool
}

// New creates an Orchestrator.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if cfg.NamePolicy == "" {
		cfg.NamePolicy = NamePolicyMultiplex
	}
	if cfg.NamePolicy != NamePolicyMultiplex && cfg.NamePolicy != NamePolicyReject {
		return nil, fmt.Errorf("invalid name policy %q", cfg.NamePolicy)
	}

	o := &Orchestrator{
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
		registry:  NewRegistry(),
		publisher: events.Discard,
		resolve:   netaddr.LocalAddresses,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}

	if cfg.PortMin > 0 || cfg.PortMax > 0 {
		pm, err := NewPortManager(cfg.BindHost, cfg.PortMin, cfg.PortMax)
		if err != nil {
			return nil, err
		}
		o.ports = pm
	}

	o.modes = map[domain.ServerMode]modeHandler{
		domain.ModeLocalHost: o.startLocal,
		domain.ModeInternet:  notImplemented,
		domain.ModeDarkWeb:   notImplemented,
	}

	return o, nil
}

// StartServer starts an instance serving network in the given mode. The
// instance is bound and registered before StartServer returns; serving
// continues in the background.
func (o *Orchestrator) StartServer(ctx context.Context, mode domain.ServerMode, network domain.Network) (*domain.ServerGroup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.closing.Load() {
		return nil, ErrShuttingDown
	}

	if err := domain.ValidateNetwork(network); err != nil {
		if !errors.Is(err, domain.ErrNoLinkedPaths) {
			err = fmt.Errorf("%w: %v", ErrInvalidNetwork, err)
		}
		return nil, o.startFailed(network.Name, StartKindInput, err)
	}

	handler, ok := o.modes[mode]
	if !ok {
		return nil, o.startFailed(network.Name, StartKindMode, fmt.Errorf("%w: %q", ErrUnknownMode, mode))
	}

	group, err := handler(ctx, network.Clone())
	if err != nil {
		if errors.Is(err, ErrShuttingDown) {
			return nil, err
		}
		var startErr *StartError
		if errors.As(err, &startErr) {
			o.metrics.startErrors.WithLabelValues(string(startErr.Kind)).Inc()
			return nil, err
		}
		return nil, o.startFailed(network.Name, StartKindMode, err)
	}
	return group, nil
}

func (o *Orchestrator) startFailed(network string, kind StartKind, err error) error {
	o.metrics.startErrors.WithLabelValues(string(kind)).Inc()
	return &StartError{Network: network, Kind: kind, Err: err}
}

func notImplemented(_ context.Context, _ domain.Network) (*domain.ServerGroup, error) {
	return nil, ErrModeNotImplemented
}

// startLocal binds a listener for network on the configured host and
// starts serving it.
func (o *Orchestrator) startLocal(_ context.Context, network domain.Network) (*domain.ServerGroup, error) {
	handler, err := fileserver.NewHandler(network, o.logger.Named("instance").With(zap.String("network", network.Name)))
	if err != nil {
		return nil, &StartError{Network: network.Name, Kind: StartKindInput, Err: fmt.Errorf("%w: %v", ErrInvalidNetwork, err)}
	}

	port, release, err := o.choosePort(network)
	if err != nil {
		return nil, &StartError{Network: network.Name, Kind: StartKindBind, Err: err}
	}

	id := o.ids.Next()
	inst := newInstance(id, network, handler, o.cfg.ReadHeaderTimeout, o.cfg.DrainTimeout,
		o.logger.Named("instance").With(zap.Uint64("id", id), zap.String("network", network.Name)))

	if err := inst.bind(o.cfg.BindHost, port); err != nil {
		release()
		o.logger.Warn("Failed to bind instance",
			zap.String("network", network.Name),
			zap.Int("port", port),
			zap.Error(err),
		)
		return nil, &StartError{Network: network.Name, Kind: StartKindBind, Err: err}
	}
	inst.addresses = o.addressesFor(uint16(inst.Port()))

	if err := o.registry.Register(network.Name, inst, o.cfg.NamePolicy == NamePolicyReject); err != nil {
		_ = inst.listener.Close()
		inst.state.Store(int32(StateStopped))
		close(inst.done)
		release()
		if errors.Is(err, ErrShuttingDown) {
			return nil, err
		}
		return nil, &StartError{Network: network.Name, Kind: StartKindPolicy, Err: err}
	}

	o.metrics.startsTotal.Inc()
	o.metrics.running.WithLabelValues(network.Name).Inc()

	group := inst.Group()
	o.logger.Info("Instance started",
		zap.String("network", network.Name),
		zap.Uint64("id", id),
		zap.Int("port", inst.Port()),
		zap.Int("addresses", len(group.Addresses)),
	)
	o.publisher.Publish(events.Event{
		Type:      events.InstanceStarted,
		Network:   network.Name,
		ServerID:  id,
		Addresses: group.Addresses,
	})

	go inst.run(func(inst *Instance, err error) {
		defer o.registry.Exited()
		release()
		o.instanceExited(inst, err)
	})

	return &group, nil
}

// choosePort returns the port to bind and a func that gives it back.
func (o *Orchestrator) choosePort(network domain.Network) (int, func(), error) {
	noop := func() {}
	if network.Port != 0 {
		return int(network.Port), noop, nil
	}
	if o.ports == nil {
		return 0, noop, nil
	}

	port, err := o.ports.Allocate()
	if err != nil {
		return 0, noop, err
	}
	o.metrics.portsAllocated.Set(float64(o.ports.InUse()))

	var once sync.Once
	return port, func() {
		once.Do(func() {
			o.ports.Release(port)
			o.metrics.portsAllocated.Set(float64(o.ports.InUse()))
		})
	}, nil
}

func (o *Orchestrator) addressesFor(port uint16) []domain.Address {
	host := o.cfg.BindHost
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		return o.resolve(port)
	}
	return []domain.Address{{IP: host, Port: port}}
}

// instanceExited runs on the instance goroutine once it has stopped.
func (o *Orchestrator) instanceExited(inst *Instance, err error) {
	if inst.Forced() {
		o.metrics.forcedDrains.Inc()
	}

	if err == nil {
		o.metrics.stopsTotal.Inc()
		o.logger.Info("Instance stopped",
			zap.String("network", inst.Network()),
			zap.Uint64("id", inst.ID()),
		)
		o.publisher.Publish(events.Event{
			Type:     events.InstanceStopped,
			Network:  inst.Network(),
			ServerID: inst.ID(),
		})
		return
	}

	// A failed instance may still be registered; nobody asked it to stop.
	if _, ok := o.registry.Unregister(inst.Network(), inst.ID()); ok {
		o.metrics.running.WithLabelValues(inst.Network()).Dec()
	}
	o.metrics.failuresTotal.Inc()
	o.logger.Error("Instance failed",
		zap.String("network", inst.Network()),
		zap.Uint64("id", inst.ID()),
		zap.Error(err),
	)
	o.publisher.Publish(events.Event{
		Type:     events.InstanceFailed,
		Network:  inst.Network(),
		ServerID: inst.ID(),
		Message:  err.Error(),
	})
}

// StopServer removes the instance from the registry and signals it to shut
// down. It does not wait for the drain to finish.
func (o *Orchestrator) StopServer(network string, id uint64) error {
	inst, ok := o.registry.Unregister(network, id)
	if !ok {
		return fmt.Errorf("%w: network %q id %d", ErrServerNotFound, network, id)
	}
	o.metrics.running.WithLabelValues(network).Dec()

	o.publisher.Publish(events.Event{
		Type:     events.InstanceStopping,
		Network:  network,
		ServerID: id,
	})

	if !inst.Stop() {
		o.logger.Warn("Instance had already exited",
			zap.String("network", network),
			zap.Uint64("id", id),
		)
	}
	return nil
}

// ListServers returns the instances running for network. It never fails;
// an unknown network yields an empty list.
func (o *Orchestrator) ListServers(network string) []domain.ServerGroup {
	return o.registry.List(network)
}

// Instance returns the registered instance with id, if any.
func (o *Orchestrator) Instance(network string, id uint64) (*Instance, bool) {
	return o.registry.Get(network, id)
}

// Networks returns the names of networks with at least one instance.
func (o *Orchestrator) Networks() []string {
	return o.registry.Networks()
}

// Running returns the number of registered instances.
func (o *Orchestrator) Running() int {
	return o.registry.Count()
}

// Shutdown stops every instance and waits until all of them have exited
// or ctx ends.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.closing.Store(true)
	drained := o.registry.Drain()
	o.logger.Info("Stopping all instances", zap.Int("count", len(drained)))

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range drained {
		o.metrics.running.WithLabelValues(inst.Network()).Dec()
		inst.Stop()
		g.Go(func() error {
			if err := inst.Wait(gctx); err != nil {
				return fmt.Errorf("instance %d (%s): %w", inst.ID(), inst.Network(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Instances stopped earlier may still be draining.
	finished := make(chan struct{})
	go func() {
		o.registry.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
