package bridge

import (
	"sync"

	"go.uber.org/atomic"
)

// DefaultActivityLabel is shown for methods without a label of their own
const DefaultActivityLabel = "working..."

// ActivityState is a snapshot of the busy signal
type ActivityState struct {
	Busy     bool
	Label    string
	InFlight int64
}

// Activity tracks whether any call is in progress and what to show for it.
// The label follows the most recently started call that is still running.
type Activity struct {
	labels       map[string]string
	defaultLabel string
	inFlight     *atomic.Int64

	mu          sync.Mutex
	running     []activityCall
	nextCallID  uint64
	subscribers map[uint64]func(ActivityState)
	nextSubID   uint64
}

type activityCall struct {
	id    uint64
	label string
}

// ActivityOption configures an Activity
type ActivityOption func(*Activity)

// WithLabel sets the label shown while method runs
func WithLabel(method, label string) ActivityOption {
	return func(a *Activity) {
		a.labels[method] = label
	}
}

// WithLabels sets labels for several methods
func WithLabels(labels map[string]string) ActivityOption {
	return func(a *Activity) {
		for method, label := range labels {
			a.labels[method] = label
		}
	}
}

// WithDefaultLabel replaces DefaultActivityLabel
func WithDefaultLabel(label string) ActivityOption {
	return func(a *Activity) {
		a.defaultLabel = label
	}
}

// NewActivity creates an idle activity tracker
func NewActivity(opts ...ActivityOption) *Activity {
	a := &Activity{
		labels:       make(map[string]string),
		defaultLabel: DefaultActivityLabel,
		inFlight:     atomic.NewInt64(0),
		subscribers:  make(map[uint64]func(ActivityState)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// LabelFor returns the label shown while method runs
func (a *Activity) LabelFor(method string) string {
	if label, ok := a.labels[method]; ok && label != "" {
		return label
	}
	return a.defaultLabel
}

// Begin marks method as running. The returned func ends it and may be
// called more than once.
func (a *Activity) Begin(method string) (end func()) {
	a.mu.Lock()
	a.nextCallID++
	call := activityCall{id: a.nextCallID, label: a.LabelFor(method)}
	a.running = append(a.running, call)
	a.inFlight.Inc()
	state, subs := a.snapshotLocked()
	a.mu.Unlock()

	notify(subs, state)

	var once sync.Once
	return func() {
		once.Do(func() { a.end(call.id) })
	}
}

func (a *Activity) end(id uint64) {
	a.mu.Lock()
	for i, call := range a.running {
		if call.id == id {
			a.running = append(a.running[:i], a.running[i+1:]...)
			break
		}
	}
	a.inFlight.Dec()
	state, subs := a.snapshotLocked()
	a.mu.Unlock()

	notify(subs, state)
}

// Busy reports whether any call is running
func (a *Activity) Busy() bool {
	return a.inFlight.Load() > 0
}

// InFlight returns the number of running calls
func (a *Activity) InFlight() int64 {
	return a.inFlight.Load()
}

// Label returns the current label, or "" when idle
func (a *Activity) Label() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.running) == 0 {
		return ""
	}
	return a.running[len(a.running)-1].label
}

// State returns a snapshot of the busy signal
func (a *Activity) State() ActivityState {
	a.mu.Lock()
	defer a.mu.Unlock()
	state, _ := a.snapshotLocked()
	return state
}

// Subscribe calls fn on every change of the busy signal until the returned
// func is called
func (a *Activity) Subscribe(fn func(ActivityState)) (unsubscribe func()) {
	a.mu.Lock()
	a.nextSubID++
	id := a.nextSubID
	a.subscribers[id] = fn
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		delete(a.subscribers, id)
		a.mu.Unlock()
	}
}

func (a *Activity) snapshotLocked() (ActivityState, []func(ActivityState)) {
	state := ActivityState{InFlight: int64(len(a.running))}
	if len(a.running) > 0 {
		state.Busy = true
		state.Label = a.running[len(a.running)-1].label
	}

	subs := make([]func(ActivityState), 0, len(a.subscribers))
	for _, fn := range a.subscribers {
		subs = append(subs, fn)
	}
	return state, subs
}

func notify(subs []func(ActivityState), state ActivityState) {
	for _, fn := range subs {
		fn(state)
	}
}
