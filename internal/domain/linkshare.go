// Package domain holds the types shared by the orchestrator, the stores and
// the control API: linked directories, networks, server modes and the
// addresses a running instance is reachable on.
package domain

import (
	"fmt"
	"time"
)

// LinkedPath is a local directory exposed under the URL segment Name.
type LinkedPath struct {
	Name string `json:"name" bson:"name" db:"name" validate:"required,max=255,excludesall=/\\:*?#,ne=.,ne=.."`
	Path string `json:"path" bson:"path" db:"path" validate:"required"`
}

// Network is a named bundle of directories served together by one instance.
type Network struct {
	Name        string       `json:"name" bson:"name" validate:"required,max=128,excludesall=/\\?#"`
	LinkedPaths []LinkedPath `json:"linked_paths" bson:"linked_paths" validate:"required,min=1,unique=Name,dive"`
	// Port pins the instance to a port; 0 lets the orchestrator choose.
	Port uint16 `json:"port,omitempty" bson:"port,omitempty"`
}

// Names returns the linked path names in order. This is the manifest an
// instance serves at its root.
func (n *Network) Names() []string {
	names := make([]string, 0, len(n.LinkedPaths))
	for _, lp := range n.LinkedPaths {
		names = append(names, lp.Name)
	}
	return names
}

// Clone returns a deep copy so callers can't mutate a running instance's view.
func (n Network) Clone() Network {
	n.LinkedPaths = append([]LinkedPath(nil), n.LinkedPaths...)
	return n
}

// Address is one reachable endpoint of a running instance.
type Address struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`
}

// URL renders the address as an http URL.
func (a Address) URL() string {
	return fmt.Sprintf("http://%s:%d", a.IP, a.Port)
}

// ServerGroup is the public view of one running instance.
type ServerGroup struct {
	ID        uint64    `json:"id"`
	Addresses []Address `json:"addresses"`
	StartedAt time.Time `json:"started_at"`
}
