// Package cinder manages when per-frame GPU resources may be reused or
// destroyed. It provides a growable pool allocator for fixed-shape
// allocation records, a deletion queue of tagged release actions, and a
// ring of in-flight frame slots gated by GPU completion signals. All GPU
// primitives are consumed through small interfaces; cinder itself never
// talks to a graphics API.
package cinder

// AllocationKind identifies one class of fixed-shape allocation record,
// for example uniform-buffer or sampled-image bindings. The numeric value
// is whatever identifier the underlying GPU API uses for that class;
// cinder passes it through without interpreting it.
type AllocationKind uint32

// PlanEntry assigns one allocation kind a relative share of a pool's
// record capacity.
type PlanEntry struct {
	Kind   AllocationKind
	Weight float32
}

// CapacityPlan sizes the per-kind reservations of a pool. A pool created
// for n records reserves Weight*n records of each listed kind. The plan
// is fixed for the lifetime of an Allocator.
type CapacityPlan []PlanEntry

func (p CapacityPlan) clone() CapacityPlan {
	return append(CapacityPlan(nil), p...)
}
