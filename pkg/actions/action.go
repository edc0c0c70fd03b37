package actions

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Names of the operations the agent keeps in its vocabulary but never
// performs.
const (
	ActionRequestElevation      = "request_elevation"
	ActionLaunchDashboard       = "launch_dashboard"
	ActionInstallCaptureLibrary = "install_capture_library"
	ActionBlockIP               = "block_ip"
	ActionUnblockIP             = "unblock_ip"
	ActionScheduleUnblock       = "schedule_unblock"
)

// Action defines the interface for any operation the dispatcher knows by
// name.
type Action interface {
	// Name returns the unique name of the action.
	Name() string
	// Execute is passed a context for cancellation and a map of data relevant
	// to the action (e.g., the IP it concerns).
	Execute(ctx context.Context, data map[string]interface{}) error
}

// Disabled is an action that only records that it was asked for. It is the
// only kind of action the dispatcher accepts.
type Disabled struct {
	name   string
	reason string
	logger zerolog.Logger
}

// NewDisabled returns a Disabled action called name.
func NewDisabled(name, reason string, logger zerolog.Logger) Disabled {
	return Disabled{name: name, reason: reason, logger: logger}
}

// Name returns the unique name of the action.
func (d Disabled) Name() string {
	return d.name
}

// Reason says why the action is not performed.
func (d Disabled) Reason() string {
	return d.reason
}

// Execute logs the request and returns without touching the system.
func (d Disabled) Execute(ctx context.Context, data map[string]interface{}) error {
	ev := d.logger.Info().Str("action", d.name).Str("reason", d.reason)
	if len(data) > 0 {
		ev = ev.Fields(data)
	}
	ev.Msg("Action is disabled in read-only mode, skipping.")
	return nil
}

func disabledSet(logger zerolog.Logger) []Disabled {
	return []Disabled{
		NewDisabled(ActionRequestElevation, "the agent runs with the privileges it was started with", logger),
		NewDisabled(ActionLaunchDashboard, "external executables are never started", logger),
		NewDisabled(ActionInstallCaptureLibrary, "capture libraries must be installed manually", logger),
		NewDisabled(ActionBlockIP, "detections are reported, never blocked", logger),
		NewDisabled(ActionUnblockIP, "nothing is ever blocked", logger),
		NewDisabled(ActionScheduleUnblock, "nothing is ever blocked", logger),
	}
}

// unblockData is the payload shared by the unblock operations.
func unblockData(ip string, after time.Duration) map[string]interface{} {
	data := map[string]interface{}{"ip": ip}
	if after > 0 {
		data["after"] = after.String()
	}
	return data
}
