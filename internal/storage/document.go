package storage

import (
	"fmt"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
)

// Document is the whole linked-path configuration as one value. The file
// and badger backends persist it as JSON; the memory backend keeps it as is.
type Document struct {
	LinkedPaths []domain.LinkedPath `json:"linked_paths"`
	Networks    []domain.Network    `json:"networks"`
}

// NewDocument returns an empty document
func NewDocument() *Document {
	return &Document{
		LinkedPaths: []domain.LinkedPath{},
		Networks:    []domain.Network{},
	}
}

// Normalize replaces nil lists (e.g. from a JSON null) with empty ones.
func (d *Document) Normalize() {
	if d.LinkedPaths == nil {
		d.LinkedPaths = []domain.LinkedPath{}
	}
	if d.Networks == nil {
		d.Networks = []domain.Network{}
	}
}

// Clone returns a deep copy.
func (d *Document) Clone() *Document {
	out := &Document{
		LinkedPaths: append([]domain.LinkedPath{}, d.LinkedPaths...),
		Networks:    make([]domain.Network, 0, len(d.Networks)),
	}
	for _, n := range d.Networks {
		out.Networks = append(out.Networks, n.Clone())
	}
	return out
}

// LinkPath appends lp, rejecting invalid entries and duplicate names.
func (d *Document) LinkPath(lp domain.LinkedPath) error {
	if err := domain.ValidateLinkedPath(lp); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	for _, existing := range d.LinkedPaths {
		if existing.Name == lp.Name {
			return fmt.Errorf("linked path %q: %w", lp.Name, ErrAlreadyExists)
		}
	}
	d.LinkedPaths = append(d.LinkedPaths, lp)
	return nil
}

// UnlinkPath removes the linked path called name.
func (d *Document) UnlinkPath(name string) error {
	for i, lp := range d.LinkedPaths {
		if lp.Name == name {
			d.LinkedPaths = append(d.LinkedPaths[:i], d.LinkedPaths[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("linked path %q: %w", name, ErrNotFound)
}

// Network returns a copy of the network called name.
func (d *Document) Network(name string) (*domain.Network, error) {
	for _, n := range d.Networks {
		if n.Name == name {
			clone := n.Clone()
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("network %q: %w", name, ErrNotFound)
}

// CreateNetwork appends network, rejecting invalid entries and duplicates.
func (d *Document) CreateNetwork(network domain.Network) error {
	if err := domain.ValidateNetwork(network); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	for _, existing := range d.Networks {
		if existing.Name == network.Name {
			return fmt.Errorf("network %q: %w", network.Name, ErrAlreadyExists)
		}
	}
	d.Networks = append(d.Networks, network.Clone())
	return nil
}

// RemoveNetwork removes the network called name.
func (d *Document) RemoveNetwork(name string) error {
	for i, n := range d.Networks {
		if n.Name == name {
			d.Networks = append(d.Networks[:i], d.Networks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("network %q: %w", name, ErrNotFound)
}
