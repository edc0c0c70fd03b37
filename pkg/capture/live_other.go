//go:build !linux

package capture

import (
	"fmt"
	"runtime"

	"github.com/rs/zerolog"
)

// OpenLive is only implemented on Linux.
func OpenLive(iface string, logger zerolog.Logger) (Source, error) {
	return nil, fmt.Errorf("live capture on %s is not supported on %s", iface, runtime.GOOS)
}
