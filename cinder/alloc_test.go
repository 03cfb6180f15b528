package cinder

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const kindUniform AllocationKind = 6

var testPlan = CapacityPlan{{Kind: kindUniform, Weight: 1.0}}

// fakeSource is an in-memory PoolSource. Pools are numeric handles with a
// record capacity equal to the size they were created with; records
// encode their owning pool as record/1000.
type fakeSource struct {
	nextID   int
	capacity map[int]uint32
	used     map[int]uint32

	created   []uint32
	reset     []int
	destroyed []int

	createErr error
	failNext  int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		capacity: map[int]uint32{},
		used:     map[int]uint32{},
	}
}

func (f *fakeSource) CreatePool(plan CapacityPlan, records uint32) (int, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}

	f.nextID++
	f.capacity[f.nextID] = records
	f.created = append(f.created, records)

	return f.nextID, nil
}

func (f *fakeSource) Allocate(pool int, layout string) (int, error) {
	if f.failNext > 0 {
		f.failNext--
		return 0, fmt.Errorf("pool %d: %w", pool, ErrPoolExhausted)
	}

	if f.used[pool] >= f.capacity[pool] {
		return 0, fmt.Errorf("pool %d: %w", pool, ErrPoolExhausted)
	}

	f.used[pool]++

	return pool*1000 + int(f.used[pool]), nil
}

func (f *fakeSource) ResetPool(pool int) error {
	f.used[pool] = 0
	f.reset = append(f.reset, pool)
	return nil
}

func (f *fakeSource) DestroyPool(pool int) {
	f.destroyed = append(f.destroyed, pool)
}

func poolOf(record int) int {
	return record / 1000
}

func TestNewAllocatorSeedsOnePool(t *testing.T) {
	src := newFakeSource()

	alloc, err := NewAllocator[int, string, int](src, testPlan, 10)
	require.NoError(t, err)

	require.Equal(t, []uint32{10}, src.created)
	require.EqualValues(t, 15, alloc.NextPoolRecords())

	ready, full := alloc.PoolCounts()
	require.Equal(t, 1, ready)
	require.Equal(t, 0, full)
}

func TestNewAllocatorPropagatesCreateFailure(t *testing.T) {
	src := newFakeSource()
	src.createErr = errors.New("device lost")

	_, err := NewAllocator[int, string, int](src, testPlan, 10)
	require.ErrorContains(t, err, "create seed pool")
}

func TestAllocateGrowsPoolsGeometrically(t *testing.T) {
	src := newFakeSource()

	alloc, err := NewAllocator[int, string, int](src, testPlan, 10)
	require.NoError(t, err)

	// exactly fills pools of 10, 15, 22 and 33 records
	prev := alloc.NextPoolRecords()
	for i := 0; i < 10+15+22+33; i++ {
		_, err := alloc.Allocate(src, "layout")
		require.NoError(t, err)

		next := alloc.NextPoolRecords()
		require.GreaterOrEqual(t, next, prev, "pool growth must be monotonic")
		prev = next
	}

	require.Equal(t, []uint32{10, 15, 22, 33}, src.created)
}

func TestGrownPoolSizeIsCapped(t *testing.T) {
	require.EqualValues(t, 15, grownPoolSize(10))
	require.EqualValues(t, 4096, grownPoolSize(3000))
	require.EqualValues(t, 4096, grownPoolSize(4096))

	// the ceiling is approached by repeated growth, never jumped to
	require.Less(t, grownPoolSize(100), uint32(maxRecordsPerPool))
}

func TestAllocateRetriesExactlyOnce(t *testing.T) {
	src := newFakeSource()

	alloc, err := NewAllocator[int, string, int](src, testPlan, 10)
	require.NoError(t, err)

	src.failNext = 1

	record, err := alloc.Allocate(src, "layout")
	require.NoError(t, err)

	require.Equal(t, []uint32{10, 15}, src.created, "one replacement pool")
	require.Equal(t, 2, poolOf(record), "retry must land in the fresh pool")

	ready, full := alloc.PoolCounts()
	require.Equal(t, 1, ready)
	require.Equal(t, 1, full, "the exhausted pool is parked")
}

func TestAllocateSecondFailureIsFatal(t *testing.T) {
	src := newFakeSource()

	alloc, err := NewAllocator[int, string, int](src, testPlan, 10)
	require.NoError(t, err)

	src.failNext = 2

	_, err = alloc.Allocate(src, "layout")
	require.ErrorIs(t, err, ErrPoolExhausted)
	require.Equal(t, []uint32{10, 15}, src.created, "no third attempt")

	// both pools stay tracked for Destroy
	alloc.Destroy(src)
	require.ElementsMatch(t, []int{1, 2}, src.destroyed)
}

func TestClearRecyclesPools(t *testing.T) {
	src := newFakeSource()

	alloc, err := NewAllocator[int, string, int](src, testPlan, 10)
	require.NoError(t, err)

	src.failNext = 1

	_, err = alloc.Allocate(src, "layout")
	require.NoError(t, err)

	readyBefore, fullBefore := alloc.PoolCounts()
	grewTo := alloc.NextPoolRecords()

	require.NoError(t, alloc.Clear(src))

	ready, full := alloc.PoolCounts()
	require.Equal(t, readyBefore+fullBefore, ready)
	require.Equal(t, 0, full)
	require.ElementsMatch(t, []int{1, 2}, src.reset)

	// capacity growth survives resets
	require.Equal(t, grewTo, alloc.NextPoolRecords())
}

func TestDestroyReleasesEveryPool(t *testing.T) {
	src := newFakeSource()

	alloc, err := NewAllocator[int, string, int](src, testPlan, 10)
	require.NoError(t, err)

	src.failNext = 1

	_, err = alloc.Allocate(src, "layout")
	require.NoError(t, err)

	alloc.Destroy(src)

	require.ElementsMatch(t, []int{1, 2}, src.destroyed)

	ready, full := alloc.PoolCounts()
	require.Zero(t, ready)
	require.Zero(t, full)
}

func TestGrowthEndToEnd(t *testing.T) {
	src := newFakeSource()

	alloc, err := NewAllocator[int, string, int](src, testPlan, 10)
	require.NoError(t, err)

	records := make([]int, 0, 15)
	for i := 0; i < 15; i++ {
		record, err := alloc.Allocate(src, "layout")
		require.NoError(t, err)
		records = append(records, record)
	}

	// the first ten land in the seed pool, the rest in a pool of 15
	for i, record := range records {
		if i < 10 {
			require.Equal(t, 1, poolOf(record), "record %d", i)
		} else {
			require.Equal(t, 2, poolOf(record), "record %d", i)
		}
	}

	require.Equal(t, []uint32{10, 15}, src.created)

	ready, full := alloc.PoolCounts()
	require.Equal(t, 1, ready)
	require.Equal(t, 1, full)

	require.NoError(t, alloc.Clear(src))

	ready, full = alloc.PoolCounts()
	require.Equal(t, 2, ready)
	require.Equal(t, 0, full)
}
