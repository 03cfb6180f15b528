package forge

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/require"
)

func TestSubmitInfoOmitsAbsentSemaphore(t *testing.T) {
	// a slot built without a render semaphore is resubmitted every
	// cycle; attaching a signal each time would re-signal a binary
	// semaphore nobody waits on
	cmd := &Commands{render: vk.NullSemaphore}

	info := cmd.submitInfo()

	require.EqualValues(t, 1, info.CommandBufferCount)
	require.Zero(t, info.SignalSemaphoreCount)
	require.Empty(t, info.PSignalSemaphores)
}
