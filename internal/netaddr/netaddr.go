// Package netaddr discovers the IPv4 addresses a freshly bound instance can
// be reached on.
package netaddr

import (
	"net"

	"github.com/sirosfoundation/go-linkshare/internal/domain"
)

// Interface is the subset of an interface the discovery needs.
type Interface struct {
	Name  string
	Up    bool
	Addrs []net.Addr
}

// Enumerator lists the host's network interfaces.
type Enumerator func() ([]Interface, error)

// SystemInterfaces enumerates the host interfaces through the net package.
func SystemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, Interface{
			Name:  iface.Name,
			Up:    iface.Flags&net.FlagUp != 0,
			Addrs: addrs,
		})
	}
	return out, nil
}

// LocalAddresses pairs every IPv4 address of an active interface with port.
// A failed enumeration yields an empty list, not an error: the server may be
// running even when its addresses are unknown.
func LocalAddresses(port uint16) []domain.Address {
	return Discover(SystemInterfaces, port)
}

// Discover is LocalAddresses with an injectable enumerator.
func Discover(enumerate Enumerator, port uint16) []domain.Address {
	addresses := []domain.Address{}

	ifaces, err := enumerate()
	if err != nil {
		return addresses
	}

	seen := make(map[string]bool)
	for _, iface := range ifaces {
		if !iface.Up {
			continue
		}
		for _, addr := range iface.Addrs {
			ip := ipOf(addr)
			if ip == nil {
				continue
			}
			ip4 := ip.To4()
			if ip4 == nil || seen[ip4.String()] {
				continue
			}
			seen[ip4.String()] = true
			addresses = append(addresses, domain.Address{IP: ip4.String(), Port: port})
		}
	}
	return addresses
}

func ipOf(addr net.Addr) net.IP {
	switch v := addr.(type) {
	case *net.IPNet:
		return v.IP
	case *net.IPAddr:
		return v.IP
	}
	return nil
}
