package actions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ActionDispatcher resolves operations by name. RegisterAction takes the
// concrete Disabled type, so nothing registered here can change the host.
type ActionDispatcher struct {
	actions map[string]Disabled
	calls   map[string]int
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// NewActionDispatcher creates a dispatcher with every known operation
// registered as disabled.
func NewActionDispatcher(logger zerolog.Logger) *ActionDispatcher {
	logger = logger.With().Str("component", "actions").Logger()
	dispatcher := &ActionDispatcher{
		actions: make(map[string]Disabled),
		calls:   make(map[string]int),
		logger:  logger,
	}
	for _, a := range disabledSet(logger) {
		dispatcher.RegisterAction(a)
	}
	return dispatcher
}

// RegisterAction registers a disabled action, replacing any with the same name.
func (ad *ActionDispatcher) RegisterAction(action Disabled) {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	ad.actions[action.Name()] = action
	ad.logger.Debug().Msgf("Action '%s' registered (disabled).", action.Name())
}

// Execute runs the named action with the given data.
func (ad *ActionDispatcher) Execute(ctx context.Context, actionName string, data map[string]interface{}) error {
	ad.mu.Lock()
	action, exists := ad.actions[actionName]
	if exists {
		ad.calls[actionName]++
	}
	ad.mu.Unlock()

	if !exists {
		return fmt.Errorf("action '%s' not found", actionName)
	}
	return action.Execute(ctx, data)
}

// Calls returns how many times the named action has been requested.
func (ad *ActionDispatcher) Calls(actionName string) int {
	ad.mu.RLock()
	defer ad.mu.RUnlock()
	return ad.calls[actionName]
}

// Names returns the registered action names.
func (ad *ActionDispatcher) Names() []string {
	ad.mu.RLock()
	defer ad.mu.RUnlock()
	names := make([]string, 0, len(ad.actions))
	for name := range ad.actions {
		names = append(names, name)
	}
	return names
}

// RequestElevation never elevates; the agent keeps its starting privileges.
func (ad *ActionDispatcher) RequestElevation(ctx context.Context) error {
	return ad.Execute(ctx, ActionRequestElevation, nil)
}

// LaunchDashboard never starts an external program.
func (ad *ActionDispatcher) LaunchDashboard(ctx context.Context) error {
	return ad.Execute(ctx, ActionLaunchDashboard, nil)
}

// InstallCaptureLibrary never installs anything.
func (ad *ActionDispatcher) InstallCaptureLibrary(ctx context.Context) error {
	return ad.Execute(ctx, ActionInstallCaptureLibrary, nil)
}

// BlockIP never blocks.
func (ad *ActionDispatcher) BlockIP(ctx context.Context, ip string) error {
	return ad.Execute(ctx, ActionBlockIP, map[string]interface{}{"ip": ip})
}

// UnblockIP never unblocks.
func (ad *ActionDispatcher) UnblockIP(ctx context.Context, ip string) error {
	return ad.Execute(ctx, ActionUnblockIP, unblockData(ip, 0))
}

// ScheduleUnblock schedules nothing.
func (ad *ActionDispatcher) ScheduleUnblock(ctx context.Context, ip string, after time.Duration) error {
	return ad.Execute(ctx, ActionScheduleUnblock, unblockData(ip, after))
}
