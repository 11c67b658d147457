package orchestrator

import (
	"errors"
	"fmt"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
)

var (
	// ErrNoLinkedPaths is returned when a network has nothing to serve.
	ErrNoLinkedPaths = domain.ErrNoLinkedPaths
	// ErrInvalidNetwork wraps any other network validation failure.
	ErrInvalidNetwork = errors.New("invalid network")
	// ErrUnknownMode is returned for a mode outside the known set.
	ErrUnknownMode = errors.New("unknown server mode")
	// ErrModeNotImplemented is returned for Internet and DarkWeb.
	ErrModeNotImplemented = errors.New("server mode not implemented")
	// ErrServerNotFound is returned when no instance matches network and id.
	ErrServerNotFound = errors.New("server not found")
	// ErrNetworkBusy is returned under the reject name policy when the
	// network already has a running instance.
	ErrNetworkBusy = errors.New("network already has a running server")
	// ErrBind is returned when the listening socket cannot be opened.
	ErrBind = errors.New("failed to bind listener")
	// ErrPortsExhausted is returned when the managed port range is full.
	ErrPortsExhausted = errors.New("no free port in managed range")
	// ErrShuttingDown is returned by StartServer once Shutdown has begun.
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// StartKind classifies a StartServer failure.
type StartKind string

const (
	StartKindInput  StartKind = "input"
	StartKindMode   StartKind = "mode"
	StartKindBind   StartKind = "bind"
	StartKindPolicy StartKind = "policy"
)

// StartError reports why a network could not be started.
type StartError struct {
	Network string
	Kind    StartKind
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start server for network %q (%s): %v", e.Network, e.Kind, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}
