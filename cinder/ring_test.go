package cinder

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// The ring fakes share one event log so tests can assert cross-component
// ordering, most importantly that nothing is reclaimed before the wait.

type ringSignal struct {
	log     *[]string
	name    string
	waitErr error
}

func (s *ringSignal) Wait(timeout time.Duration) error {
	if s.waitErr != nil {
		return s.waitErr
	}

	*s.log = append(*s.log, s.name+":wait")
	return nil
}

func (s *ringSignal) Reset() error {
	*s.log = append(*s.log, s.name+":reset")
	return nil
}

type ringCommands struct {
	log  *[]string
	name string
}

func (c *ringCommands) Begin() error {
	*c.log = append(*c.log, c.name+":begin")
	return nil
}

func (c *ringCommands) End() error {
	*c.log = append(*c.log, c.name+":end")
	return nil
}

type ringSubmitter struct {
	log *[]string
}

func (s *ringSubmitter) Submit(commands CommandContext, done CompletionSignal) error {
	*s.log = append(*s.log, "submit:"+commands.(*ringCommands).name)
	return nil
}

type ringSource struct {
	log *[]string
}

func (s *ringSource) CreatePool(plan CapacityPlan, records uint32) (int, error) {
	*s.log = append(*s.log, fmt.Sprintf("create-pool:%d", records))
	return 1, nil
}

func (s *ringSource) Allocate(pool int, layout string) (int, error) {
	return pool * 1000, nil
}

func (s *ringSource) ResetPool(pool int) error {
	*s.log = append(*s.log, "reset-pool")
	return nil
}

func (s *ringSource) DestroyPool(pool int) {
	*s.log = append(*s.log, "destroy-pool")
}

type ringTarget struct {
	log *[]string
}

func (t *ringTarget) Release(action ReleaseAction) {
	*t.log = append(*t.log, "release:"+action.Kind.String())
}

func newTestRing(t *testing.T, slotCount int, log *[]string) *Ring[int, string, int] {
	t.Helper()

	source := &ringSource{log: log}

	slots := make([]*Slot[int, string, int], slotCount)
	for i := range slots {
		descriptors, err := NewAllocator[int, string, int](source, testPlan, 8)
		require.NoError(t, err)

		slots[i] = &Slot[int, string, int]{
			Completion:  &ringSignal{log: log, name: fmt.Sprintf("s%d", i)},
			Commands:    &ringCommands{log: log, name: fmt.Sprintf("s%d", i)},
			Descriptors: descriptors,
			Cleanup:     &DeletionQueue{},
		}
	}

	return NewRing(slots, source, &ringTarget{log: log}, &ringSubmitter{log: log})
}

func TestBuildSlotsDestroysAllocatorsOnFailure(t *testing.T) {
	var log []string
	source := &ringSource{log: &log}

	boom := errors.New("boom")

	_, err := BuildSlots(source, 3, func(i int) (*Slot[int, string, int], error) {
		if i == 2 {
			return nil, boom
		}

		descriptors, err := NewAllocator[int, string, int](source, testPlan, 8)
		require.NoError(t, err)

		return &Slot[int, string, int]{Descriptors: descriptors}, nil
	})
	require.ErrorIs(t, err, boom)

	// both seed pools of the slots built before the failure are released
	require.Equal(t, 2, countOf(log, "destroy-pool"))
}

func TestBeginFrameReclaimsOnlyAfterWait(t *testing.T) {
	var log []string
	ring := newTestRing(t, 2, &log)

	slot, err := ring.BeginFrame()
	require.NoError(t, err)

	slot.Cleanup.Push(ReleaseAction{Kind: ReleaseBuffer, Handle: "transient"})

	require.NoError(t, ring.EndFrame(slot))

	// second cycle on the other slot, third returns to slot 0 and must
	// wait before running the deferred release and pool reset
	log = log[:0]

	slot2, err := ring.BeginFrame()
	require.NoError(t, err)
	require.NoError(t, ring.EndFrame(slot2))

	log = log[:0]

	_, err = ring.BeginFrame()
	require.NoError(t, err)

	require.Equal(t, []string{
		"s0:wait",
		"release:buffer",
		"reset-pool",
		"s0:reset",
		"s0:begin",
	}, log)
}

func TestEndFrameAdvancesCounterImmediately(t *testing.T) {
	var log []string
	ring := newTestRing(t, 2, &log)

	slot, err := ring.BeginFrame()
	require.NoError(t, err)
	require.EqualValues(t, 0, ring.FrameNumber())

	require.NoError(t, ring.EndFrame(slot))
	require.EqualValues(t, 1, ring.FrameNumber())
}

func TestRingRotatesSlotsByFrameNumber(t *testing.T) {
	var log []string
	ring := newTestRing(t, 2, &log)

	var seen []*Slot[int, string, int]
	for i := 0; i < 3; i++ {
		slot, err := ring.BeginFrame()
		require.NoError(t, err)
		require.NoError(t, ring.EndFrame(slot))

		seen = append(seen, slot)
	}

	require.Same(t, seen[0], seen[2])
	require.NotSame(t, seen[0], seen[1])
}

func TestWaitTimeoutAbortsTheFrame(t *testing.T) {
	var log []string
	ring := newTestRing(t, 2, &log)

	slot := ring.slots[0]
	slot.Completion.(*ringSignal).waitErr = ErrWaitTimeout
	slot.Cleanup.Push(ReleaseAction{Kind: ReleaseBuffer, Handle: "transient"})

	_, err := ring.BeginFrame()
	require.ErrorIs(t, err, ErrWaitTimeout)

	// nothing may be reclaimed when the wait fails
	require.Equal(t, 1, slot.Cleanup.Len())
	require.NotContains(t, log, "reset-pool")
}

func TestDestroyFlushesQueuesAndDestroysPools(t *testing.T) {
	var log []string
	ring := newTestRing(t, 2, &log)

	ring.slots[0].Cleanup.Push(ReleaseAction{Kind: ReleaseBuffer, Handle: "a"})
	ring.slots[1].Cleanup.Push(ReleaseAction{Kind: ReleaseImage, Handle: "b"})

	log = log[:0]
	ring.Destroy()

	require.Contains(t, log, "release:buffer")
	require.Contains(t, log, "release:image")
	require.Equal(t, 2, countOf(log, "destroy-pool"))
}

func countOf(log []string, event string) int {
	n := 0
	for _, entry := range log {
		if entry == event {
			n++
		}
	}
	return n
}
