package forge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFrameTimesTracksRollingAverage(t *testing.T) {
	times := FrameTimes{
		FrameCount:      64,
		AverageDuration: 16 * time.Millisecond,
	}

	times.update(32 * time.Millisecond)

	require.Equal(t, 32*time.Millisecond, times.Delta)
	require.Equal(t, 32*time.Millisecond, times.MaxDuration)

	// one outlier only nudges the windowed average
	require.Greater(t, times.AverageDuration, 16*time.Millisecond)
	require.Less(t, times.AverageDuration, 17*time.Millisecond)
}

func TestFPSGuardsAgainstZeroDuration(t *testing.T) {
	var times FrameTimes
	require.Zero(t, times.FPS())

	// early frames seed the average directly
	times.update(20 * time.Millisecond)
	require.InDelta(t, 50, times.FPS(), 0.01)
}
