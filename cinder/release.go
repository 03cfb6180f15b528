package cinder

import "slices"

// ReleaseKind tags a pending release action with the class of GPU object
// it destroys.
type ReleaseKind uint8

const (
	// ReleaseHook runs an arbitrary cleanup function instead of
	// destroying a GPU object.
	ReleaseHook ReleaseKind = iota
	ReleaseBuffer
	ReleaseImage
	ReleaseImageView
	ReleaseMemory
	ReleaseSampler
	ReleaseDescriptorPool
	ReleaseDescriptorSetLayout
	ReleaseCommandPool
	ReleaseFence
	ReleaseSemaphore
)

func (k ReleaseKind) String() string {
	switch k {
	case ReleaseHook:
		return "hook"
	case ReleaseBuffer:
		return "buffer"
	case ReleaseImage:
		return "image"
	case ReleaseImageView:
		return "image-view"
	case ReleaseMemory:
		return "memory"
	case ReleaseSampler:
		return "sampler"
	case ReleaseDescriptorPool:
		return "descriptor-pool"
	case ReleaseDescriptorSetLayout:
		return "descriptor-set-layout"
	case ReleaseCommandPool:
		return "command-pool"
	case ReleaseFence:
		return "fence"
	case ReleaseSemaphore:
		return "semaphore"
	}

	return "unknown"
}

// ReleaseAction is one pending destruction. Handle carries the GPU object
// (or object bundle) to destroy and is interpreted by the ReleaseTarget
// according to Kind. For ReleaseHook only Hook is set.
type ReleaseAction struct {
	Kind   ReleaseKind
	Handle any
	Hook   func()
}

// ReleaseTarget executes tagged release actions against the device that
// owns the handles.
type ReleaseTarget interface {
	Release(action ReleaseAction)
}

// DeletionQueue collects release actions for objects whose destruction
// must not race their last use on the GPU. Flush executes the actions in
// reverse order of registration, so later objects that depend on earlier
// ones are released first. The zero value is ready to use.
type DeletionQueue struct {
	pending []ReleaseAction
}

// Push appends a release action to the queue.
func (q *DeletionQueue) Push(action ReleaseAction) {
	q.pending = append(q.pending, action)
}

// PushHook appends an arbitrary cleanup function to the queue.
func (q *DeletionQueue) PushHook(hook func()) {
	q.pending = append(q.pending, ReleaseAction{Kind: ReleaseHook, Hook: hook})
}

// Len reports the number of pending actions.
func (q *DeletionQueue) Len() int {
	return len(q.pending)
}

// Pending returns a copy of the queued actions in registration order.
// Mutating the copy does not affect the queue.
func (q *DeletionQueue) Pending() []ReleaseAction {
	return slices.Clone(q.pending)
}

// Flush executes all pending actions in reverse order of registration and
// empties the queue. Flushing an empty queue is a no-op. Actions pushed
// by a running action are kept for the next flush, not executed now.
func (q *DeletionQueue) Flush(target ReleaseTarget) {
	pending := q.pending
	q.pending = nil

	for i := len(pending) - 1; i >= 0; i-- {
		action := pending[i]

		if action.Kind == ReleaseHook {
			action.Hook()
			continue
		}

		if target == nil {
			panic("release action " + action.Kind.String() + " flushed without a target")
		}

		target.Release(action)
	}
}
