package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIPLimiter_Disabled(t *testing.T) {
	l := newIPLimiter(0)
	require.Nil(t, l)
	for range 100 {
		require.True(t, l.allow("10.0.0.1"))
	}
	require.Zero(t, l.sweep(time.Now()))
}

func TestIPLimiter_BurstThenDeny(t *testing.T) {
	l := newIPLimiter(60)
	for range rateLimitBurst {
		require.True(t, l.allow("10.0.0.1"))
	}
	require.False(t, l.allow("10.0.0.1"))
	require.True(t, l.allow("10.0.0.2"))
}

func TestIPLimiter_Sweep(t *testing.T) {
	l := newIPLimiter(60)
	l.allow("10.0.0.1")
	l.allow("10.0.0.2")

	require.Zero(t, l.sweep(time.Now().Add(-time.Minute)))
	require.Equal(t, 2, l.sweep(time.Now().Add(time.Second)))
	require.Empty(t, l.entries)
}
