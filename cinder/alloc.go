package cinder

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrPoolExhausted is reported by PoolSource.Allocate when a pool cannot
// hold another record, either because it is full or too fragmented. The
// allocator recovers from it by rotating to a fresh pool; every other
// error is passed through to the caller unchanged.
var ErrPoolExhausted = errors.New("pool exhausted")

// PoolSource supplies the GPU primitives the allocator is built on: pool
// creation, record allocation and bulk reset/destruction. P, L and R are
// the backend's pool, layout and record handle types.
type PoolSource[P, L, R any] interface {
	// CreatePool creates a pool holding up to records allocation records,
	// with per-kind reservations sized by the plan.
	CreatePool(plan CapacityPlan, records uint32) (P, error)

	// Allocate carves one record shaped by layout out of the pool.
	// Returns an error matching ErrPoolExhausted if the pool is spent.
	Allocate(pool P, layout L) (R, error)

	// ResetPool frees all records of the pool in bulk, leaving the pool
	// valid and empty.
	ResetPool(pool P) error

	// DestroyPool releases the pool itself.
	DestroyPool(pool P)
}

const (
	// each new pool is half as large again as the previous one
	poolGrowthFactor = 1.5

	// upper bound on records per pool, reached only by repeated growth
	maxRecordsPerPool = 4096
)

func grownPoolSize(records uint32) uint32 {
	records = uint32(float64(records) * poolGrowthFactor)
	return min(records, maxRecordsPerPool)
}

// Allocator hands out allocation records from a working set of pools,
// creating geometrically larger pools whenever the set runs dry. Records
// are never freed individually; ownership of every record ends at the
// next Clear, which resets all pools in bulk. The zero value is not
// usable, construct with NewAllocator.
//
// An Allocator is not safe for concurrent use. Each frame slot owns its
// own instance, so no cross-slot coordination is needed.
type Allocator[P, L, R any] struct {
	plan CapacityPlan

	// pools to allocate from, back is preferred
	readyPools []P

	// pools that failed an allocation since the last Clear
	fullPools []P

	// size of the next pool to be created. Grows monotonically and
	// survives Clear.
	nextPoolRecords uint32
}

// NewAllocator creates an allocator with one seed pool of initialRecords
// records. The plan is copied and fixed for the allocator's lifetime.
func NewAllocator[P, L, R any](src PoolSource[P, L, R], plan CapacityPlan, initialRecords uint32) (*Allocator[P, L, R], error) {
	a := &Allocator[P, L, R]{
		plan:            plan.clone(),
		nextPoolRecords: grownPoolSize(initialRecords),
	}

	seed, err := src.CreatePool(a.plan, initialRecords)
	if err != nil {
		return nil, fmt.Errorf("create seed pool: %w", err)
	}

	a.readyPools = append(a.readyPools, seed)

	return a, nil
}

// Allocate returns a record shaped by layout. Pool exhaustion is handled
// internally: the exhausted pool is parked until the next Clear and the
// allocation retried once against a fresh pool. A second failure, or any
// failure other than exhaustion, is returned and must be treated as
// fatal by the caller.
func (a *Allocator[P, L, R]) Allocate(src PoolSource[P, L, R], layout L) (R, error) {
	var zero R

	pool, err := a.getPool(src)
	if err != nil {
		return zero, err
	}

	record, err := src.Allocate(pool, layout)
	if errors.Is(err, ErrPoolExhausted) {
		a.fullPools = append(a.fullPools, pool)

		pool, err = a.getPool(src)
		if err != nil {
			return zero, err
		}

		record, err = src.Allocate(pool, layout)
	}

	if err != nil {
		// keep the pool tracked so a later Destroy still releases it
		a.fullPools = append(a.fullPools, pool)
		return zero, fmt.Errorf("allocate record: %w", err)
	}

	// optimistic: a pool that just served an allocation is assumed to
	// serve the next one too. Remaining capacity is not tracked.
	a.readyPools = append(a.readyPools, pool)

	return record, nil
}

func (a *Allocator[P, L, R]) getPool(src PoolSource[P, L, R]) (P, error) {
	if n := len(a.readyPools); n > 0 {
		pool := a.readyPools[n-1]
		a.readyPools = a.readyPools[:n-1]
		return pool, nil
	}

	records := a.nextPoolRecords
	a.nextPoolRecords = grownPoolSize(records)

	slog.Debug("Create new record pool", slog.Int("records", int(records)))

	pool, err := src.CreatePool(a.plan, records)
	if err != nil {
		var zero P
		return zero, fmt.Errorf("create pool of %d records: %w", records, err)
	}

	return pool, nil
}

// Clear resets every pool back to empty-but-valid and returns all parked
// pools to the ready set. Every record handed out since the previous
// Clear becomes invalid. Call only once the GPU work using those records
// has completed.
func (a *Allocator[P, L, R]) Clear(src PoolSource[P, L, R]) error {
	for _, pool := range a.readyPools {
		if err := src.ResetPool(pool); err != nil {
			return fmt.Errorf("reset ready pool: %w", err)
		}
	}

	for _, pool := range a.fullPools {
		if err := src.ResetPool(pool); err != nil {
			return fmt.Errorf("reset full pool: %w", err)
		}

		a.readyPools = append(a.readyPools, pool)
	}

	a.fullPools = a.fullPools[:0]

	return nil
}

// Destroy releases every pool. The allocator must not be used afterwards.
func (a *Allocator[P, L, R]) Destroy(src PoolSource[P, L, R]) {
	for _, pool := range a.readyPools {
		src.DestroyPool(pool)
	}
	a.readyPools = nil

	for _, pool := range a.fullPools {
		src.DestroyPool(pool)
	}
	a.fullPools = nil
}

// PoolCounts reports the number of ready and parked pools.
func (a *Allocator[P, L, R]) PoolCounts() (ready, full int) {
	return len(a.readyPools), len(a.fullPools)
}

// NextPoolRecords reports the record capacity the next created pool will
// have.
func (a *Allocator[P, L, R]) NextPoolRecords() uint32 {
	return a.nextPoolRecords
}
