package actions

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionDispatcher_KnownActionsAreNoOps(t *testing.T) {
	var buf bytes.Buffer
	ad := NewActionDispatcher(zerolog.New(&buf))
	ctx := context.Background()

	assert.ElementsMatch(t, []string{
		ActionRequestElevation,
		ActionLaunchDashboard,
		ActionInstallCaptureLibrary,
		ActionBlockIP,
		ActionUnblockIP,
		ActionScheduleUnblock,
	}, ad.Names())

	require.NoError(t, ad.RequestElevation(ctx))
	require.NoError(t, ad.LaunchDashboard(ctx))
	require.NoError(t, ad.InstallCaptureLibrary(ctx))
	require.NoError(t, ad.BlockIP(ctx, "10.0.0.5"))
	require.NoError(t, ad.UnblockIP(ctx, "10.0.0.5"))
	require.NoError(t, ad.ScheduleUnblock(ctx, "10.0.0.5", time.Minute))

	for _, name := range ad.Names() {
		assert.Equal(t, 1, ad.Calls(name), name)
	}

	out := buf.String()
	assert.Contains(t, out, "Action is disabled in read-only mode, skipping.")
	assert.Contains(t, out, `"ip":"10.0.0.5"`)
	assert.Contains(t, out, `"after":"1m0s"`)
}

func TestActionDispatcher_UnknownAction(t *testing.T) {
	ad := NewActionDispatcher(zerolog.Nop())
	err := ad.Execute(context.Background(), "kill_process", nil)
	assert.EqualError(t, err, "action 'kill_process' not found")
	assert.Zero(t, ad.Calls("kill_process"))
}

func TestActionDispatcher_RegisterReplaces(t *testing.T) {
	ad := NewActionDispatcher(zerolog.Nop())
	ad.RegisterAction(NewDisabled(ActionBlockIP, "custom", zerolog.Nop()))
	assert.Len(t, ad.Names(), 6)

	ad.mu.RLock()
	reason := ad.actions[ActionBlockIP].Reason()
	ad.mu.RUnlock()
	assert.Equal(t, "custom", reason)
}

func TestDisabled_ImplementsAction(t *testing.T) {
	var a Action = NewDisabled("x", "y", zerolog.Nop())
	assert.Equal(t, "x", a.Name())
	assert.NoError(t, a.Execute(context.Background(), map[string]interface{}{"k": 1}))
}
