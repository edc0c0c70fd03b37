// Package probe checks, without changing anything, whether packet capture can
// work on this host.
package probe

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/net"
)

// Swapped out in tests.
var (
	glob          = filepath.Glob
	netInterfaces = net.InterfacesWithContext
)

const interfaceTimeout = 2 * time.Second

// Report describes what a probe found.
type Report struct {
	Libraries        []string `json:"libraries"`
	LibraryFound     bool     `json:"library_found"`
	Interface        string   `json:"interface,omitempty"`
	InterfaceChecked bool     `json:"interface_checked"`
	InterfaceFound   bool     `json:"interface_found"`
	Interfaces       []string `json:"interfaces,omitempty"`
}

// Available reports whether capture can proceed.
func (r Report) Available() bool {
	if !r.LibraryFound {
		return false
	}
	return !r.InterfaceChecked || r.InterfaceFound
}

// CaptureProbe looks for a capture library (libpcap or Npcap) among glob
// patterns and, when an interface is named, checks that it exists.
type CaptureProbe struct {
	LibraryPaths []string
	Interface    string
	logger       zerolog.Logger
}

// NewCaptureProbe creates a probe over the given library patterns.
func NewCaptureProbe(libraryPaths []string, iface string, logger zerolog.Logger) *CaptureProbe {
	return &CaptureProbe{
		LibraryPaths: libraryPaths,
		Interface:    iface,
		logger:       logger.With().Str("component", "probe").Logger(),
	}
}

// Available returns true if capture can proceed. Calling it any number of
// times has no effect on the host.
func (p *CaptureProbe) Available() bool {
	return p.Report(context.Background()).Available()
}

// Report runs the checks and returns what was found.
func (p *CaptureProbe) Report(ctx context.Context) Report {
	var r Report
	seen := make(map[string]bool)
	for _, pattern := range p.LibraryPaths {
		matches, err := glob(pattern)
		if err != nil {
			p.logger.Debug().Err(err).Str("pattern", pattern).Msg("Skipping bad library pattern.")
			continue
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				r.Libraries = append(r.Libraries, m)
			}
		}
	}
	sort.Strings(r.Libraries)
	r.LibraryFound = len(r.Libraries) > 0

	if p.Interface != "" {
		r.Interface = p.Interface
		r.InterfaceChecked = true

		ctx, cancel := context.WithTimeout(ctx, interfaceTimeout)
		defer cancel()
		ifaces, err := netInterfaces(ctx)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Failed to list network interfaces.")
		}
		for _, iface := range ifaces {
			r.Interfaces = append(r.Interfaces, iface.Name)
			if iface.Name == p.Interface {
				r.InterfaceFound = true
			}
		}
	}

	p.logger.Debug().
		Strs("libraries", r.Libraries).
		Bool("interface_found", r.InterfaceFound).
		Bool("available", r.Available()).
		Msg("Capture probe finished.")
	return r
}
