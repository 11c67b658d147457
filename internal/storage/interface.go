package storage

import (
	"context"
	"errors"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
)

// Common errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrDatabase      = errors.New("database error")
)

// LinkedPathStore persists the directories the user has linked.
type LinkedPathStore interface {
	// ReadLinkedPaths returns every linked path in the order they were linked
	ReadLinkedPaths(ctx context.Context) ([]domain.LinkedPath, error)

	// LinkPath adds a linked path; the name must be unused
	LinkPath(ctx context.Context, lp domain.LinkedPath) error

	// UnlinkPath removes the linked path with name
	UnlinkPath(ctx context.Context, name string) error
}

// NetworkStore persists saved networks.
type NetworkStore interface {
	// ReadNetworks returns every saved network in creation order
	ReadNetworks(ctx context.Context) ([]domain.Network, error)

	// GetNetwork retrieves a network by name
	GetNetwork(ctx context.Context, name string) (*domain.Network, error)

	// CreateNetwork saves a new network; the name must be unused
	CreateNetwork(ctx context.Context, network domain.Network) error

	// RemoveNetwork deletes the network with name
	RemoveNetwork(ctx context.Context, name string) error
}

// Store aggregates all storage interfaces
type Store interface {
	LinkedPathStore
	NetworkStore

	// Close closes the storage connection
	Close() error

	// Ping checks if the storage is alive
	Ping(ctx context.Context) error
}
