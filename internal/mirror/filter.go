package mirror

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/sirosfoundation/go-linkshare/pkg/config"
)

// ErrBlocked is returned when a remote URL is rejected by the filter.
var ErrBlocked = errors.New("remote URL blocked")

// Filter decides which remote instances the client may contact.
//
// Peers are normally on the local network, so private and loopback targets
// are allowed unless configured otherwise. Link-local addresses are blocked
// by default since they reach cloud metadata services.
type Filter struct {
	cfg    config.MirrorFilterConfig
	logger *zap.Logger
}

// NewFilter creates a filter with the given configuration.
func NewFilter(cfg config.MirrorFilterConfig, logger *zap.Logger) *Filter {
	return &Filter{cfg: cfg, logger: logger.Named("mirror-filter")}
}

// Check returns nil if rawURL may be fetched, or an error wrapping
// ErrBlocked describing why not.
func (f *Filter) Check(rawURL string) error {
	if err := f.check(rawURL); err != nil {
		f.logger.Debug("Blocked remote URL", zap.String("url", rawURL), zap.Error(err))
		return fmt.Errorf("%w: %v", ErrBlocked, err)
	}
	return nil
}

func (f *Filter) check(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("only HTTP(S) URLs allowed, got %q", scheme)
	}
	if f.cfg.RequireHTTPS && scheme != "https" {
		return fmt.Errorf("HTTPS required")
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return fmt.Errorf("empty host")
	}

	for _, blocked := range f.cfg.BlockedHosts {
		if strings.EqualFold(hostname, blocked) {
			return fmt.Errorf("host %q is blocked", hostname)
		}
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if f.cfg.BlockLoopback && ip.IsLoopback() {
			return fmt.Errorf("loopback addresses are blocked")
		}
		if f.cfg.BlockLinkLocal && (ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()) {
			return fmt.Errorf("link-local addresses are blocked")
		}
		if f.cfg.BlockPrivate && ip.IsPrivate() {
			return fmt.Errorf("private addresses are blocked")
		}
	} else if f.cfg.BlockLoopback && isLocalhostName(hostname) {
		return fmt.Errorf("localhost is blocked")
	}

	return nil
}

func isLocalhostName(hostname string) bool {
	h := strings.ToLower(hostname)
	return h == "localhost" ||
		h == "localhost.localdomain" ||
		strings.HasSuffix(h, ".localhost")
}
