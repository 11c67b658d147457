package orchestrator

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

// PortManager hands out ports from a fixed range to instances. Ports stay
// reserved until released, even if the instance has not bound yet.
type PortManager struct {
	mu            sync.Mutex
	host          string
	minPort       int
	maxPort       int
	allocated     map[int]bool
	nextCandidate int
}

// NewPortManager creates a PortManager for [minPort, maxPort] on host.
func NewPortManager(host string, minPort, maxPort int) (*PortManager, error) {
	if minPort <= 0 || maxPort <= 0 || minPort > maxPort || maxPort > 65535 {
		return nil, fmt.Errorf("invalid port range: min %d, max %d", minPort, maxPort)
	}
	return &PortManager{
		host:          host,
		minPort:       minPort,
		maxPort:       maxPort,
		allocated:     make(map[int]bool),
		nextCandidate: minPort,
	}, nil
}

// Allocate reserves a port that is free both in the range and on the host.
func (pm *PortManager) Allocate() (int, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	size := pm.maxPort - pm.minPort + 1
	for i := 0; i < size; i++ {
		port := pm.nextCandidate
		pm.nextCandidate++
		if pm.nextCandidate > pm.maxPort {
			pm.nextCandidate = pm.minPort
		}

		if pm.allocated[port] {
			continue
		}

		// Probe the host; something outside our control may hold it.
		l, err := net.Listen("tcp", net.JoinHostPort(pm.host, strconv.Itoa(port)))
		if err != nil {
			continue
		}
		_ = l.Close()
		pm.allocated[port] = true
		return port, nil
	}

	return 0, fmt.Errorf("%w [%d-%d]", ErrPortsExhausted, pm.minPort, pm.maxPort)
}

// Release returns a port to the pool. Ports outside the range are ignored.
func (pm *PortManager) Release(port int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if port < pm.minPort || port > pm.maxPort {
		return
	}
	delete(pm.allocated, port)
}

// InUse reports how many ports are currently reserved.
func (pm *PortManager) InUse() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.allocated)
}
