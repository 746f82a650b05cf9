package transport

import (
	"math"
	"sync"
	"time"

	"async-rpc/future"
)

// pendingCall is one request waiting for its response.
type pendingCall struct {
	id      int32
	future  *future.Future[any]
	timeout time.Duration
	timer   *time.Timer
}

// CallRegistry tracks outstanding calls on one connection by correlation id.
//
// Responses are routed by id: whichever of Resolve, Expire or FailAll removes
// a call from the registry first resolves its future, the others find nothing
// and do nothing. All methods are safe for concurrent use; the reactor
// goroutine, timer goroutines and callers share one registry.
type CallRegistry struct {
	mu      sync.Mutex
	seq     int32 // last id handed out
	pending map[int32]*pendingCall
	closed  error // set by FailAll, rejects later registrations
}

// NewCallRegistry returns an empty registry. The first id issued is 0.
func NewCallRegistry() *CallRegistry {
	return &CallRegistry{
		seq:     -1,
		pending: make(map[int32]*pendingCall),
	}
}

// NextID returns a fresh correlation id. Ids increase monotonically; after
// math.MaxInt32 the counter wraps to 0 and skips ids that are still pending.
func (r *CallRegistry) NextID() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		if r.seq == math.MaxInt32 {
			r.seq = 0
		} else {
			r.seq++
		}
		if _, busy := r.pending[r.seq]; !busy {
			return r.seq
		}
	}
}

// Register records f as waiting for the response to id. A positive timeout
// schedules Expire for the call. Registering after FailAll returns the
// FailAll reason.
func (r *CallRegistry) Register(id int32, f *future.Future[any], timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed != nil {
		return r.closed
	}
	if _, ok := r.pending[id]; ok {
		return &DuplicateIDError{ID: id}
	}

	call := &pendingCall{id: id, future: f, timeout: timeout}
	if timeout > 0 {
		// The timer expires this exact entry, not whatever holds the id
		// later on after a wraparound.
		call.timer = time.AfterFunc(timeout, func() { r.expire(call) })
	}
	r.pending[id] = call
	return nil
}

// Resolve completes the call for id with value, or with err if err is not
// nil. It returns false if no call with that id is pending, e.g. a late
// response for a call that already timed out.
func (r *CallRegistry) Resolve(id int32, value any, err error) bool {
	call := r.take(id)
	if call == nil {
		return false
	}
	if err != nil {
		call.future.Fail(err)
	} else {
		call.future.Resolve(value)
	}
	return true
}

// Expire fails the call for id with a *TimeoutError if it is still pending.
func (r *CallRegistry) Expire(id int32) bool {
	call := r.take(id)
	if call == nil {
		return false
	}
	call.future.Fail(&TimeoutError{ID: id, After: call.timeout})
	return true
}

// Remove drops the call for id without resolving it. Used to roll back a
// registration whose request could not be written.
func (r *CallRegistry) Remove(id int32) bool {
	return r.take(id) != nil
}

// FailAll fails every pending call with err and makes later Register calls
// fail with err as well. Only the first reason is kept; calling it again is
// harmless.
func (r *CallRegistry) FailAll(err error) int {
	r.mu.Lock()
	if r.closed == nil {
		r.closed = err
	}
	calls := r.pending
	r.pending = make(map[int32]*pendingCall)
	r.mu.Unlock()

	for _, call := range calls {
		if call.timer != nil {
			call.timer.Stop()
		}
		call.future.Fail(err)
	}
	return len(calls)
}

// Len returns the number of pending calls.
func (r *CallRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *CallRegistry) take(id int32) *pendingCall {
	r.mu.Lock()
	call, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if call != nil && call.timer != nil {
		call.timer.Stop()
	}
	return call
}

func (r *CallRegistry) expire(call *pendingCall) {
	r.mu.Lock()
	if r.pending[call.id] != call {
		r.mu.Unlock()
		return
	}
	delete(r.pending, call.id)
	r.mu.Unlock()

	call.future.Fail(&TimeoutError{ID: call.id, After: call.timeout})
}
