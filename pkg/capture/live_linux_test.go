//go:build linux

package capture

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHtons(t *testing.T) {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], htons(0x0003))
	assert.Equal(t, [2]byte{0x00, 0x03}, b)
}

func TestOpenLive_UnknownInterface(t *testing.T) {
	_, err := OpenLive("nosuchif0", zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenLive_CancelReturnsPromptly(t *testing.T) {
	src, err := OpenLive("lo", zerolog.Nop())
	if err != nil {
		t.Skipf("raw socket unavailable: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := src.Packets(ctx)
	cancel()

	deadline := time.After(2 * time.Second)
	for open := true; open; {
		select {
		case _, open = <-ch:
		case <-deadline:
			t.Fatal("live reader still blocked after cancel")
		}
	}
	require.NoError(t, src.Close())
	assert.NoError(t, src.Close())
}
