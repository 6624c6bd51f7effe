package bridge

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/glimte/rpcbridge/contracts"
)

// unknownRemoteError stands in for a failed response without error text
const unknownRemoteError = "Unknown error"

// pendingEntry is the bookkeeping for one in-flight request
type pendingEntry struct {
	id           string
	method       string
	onSuccess    func(json.RawMessage)
	onFailure    func(error)
	timer        Timer
	registeredAt time.Time
}

// pendingTable maps request ids to their continuations. Removing an entry
// and choosing which continuation runs happen under one lock, so a response
// and a timeout racing for the same id can never both fire.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		entries: make(map[string]*pendingEntry),
	}
}

// register inserts a new entry
func (t *pendingTable) register(id, method string, onSuccess func(json.RawMessage), onFailure func(error)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateRequest, id)
	}

	t.entries[id] = &pendingEntry{
		id:           id,
		method:       method,
		onSuccess:    onSuccess,
		onFailure:    onFailure,
		registeredAt: time.Now(),
	}
	return nil
}

// arm attaches the deadline timer. If the entry already settled the timer
// is stopped and false is returned.
func (t *pendingTable) arm(id string, timer Timer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.entries[id]
	if !exists {
		timer.Stop()
		return false
	}
	entry.timer = timer
	return true
}

// take removes the entry and stops its timer
func (t *pendingTable) take(id string) *pendingEntry {
	t.mu.Lock()
	entry, exists := t.entries[id]
	if exists {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !exists {
		return nil
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	return entry
}

// resolve settles id from a response frame. Unknown ids, including late
// responses after a timeout, are a no-op.
func (t *pendingTable) resolve(id string, ok bool, result json.RawMessage, errText string) bool {
	entry := t.take(id)
	if entry == nil {
		return false
	}

	if ok {
		entry.onSuccess(result)
		return true
	}

	if errText == "" {
		errText = unknownRemoteError
	}
	entry.onFailure(&RemoteError{ID: id, Method: entry.method, Message: errText})
	return true
}

// HandleResponse lets the router forward response frames
func (t *pendingTable) HandleResponse(resp *contracts.Response) bool {
	return t.resolve(resp.ID, resp.OK, resp.Result, resp.Error)
}

// expire fails id with a timeout if it is still pending
func (t *pendingTable) expire(id string, timeout time.Duration) bool {
	entry := t.take(id)
	if entry == nil {
		return false
	}

	entry.onFailure(&RequestError{
		Op:      "wait",
		ID:      id,
		Method:  entry.method,
		Timeout: timeout,
		Err:     ErrRequestTimeout,
	})
	return true
}

// fail settles id with err, for requests that never made it onto the channel
func (t *pendingTable) fail(id string, err error) bool {
	entry := t.take(id)
	if entry == nil {
		return false
	}
	entry.onFailure(err)
	return true
}

// drain fails every pending entry with err and returns how many there were
func (t *pendingTable) drain(err error) int {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*pendingEntry)
	t.mu.Unlock()

	for _, entry := range entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entry.onFailure(err)
	}
	return len(entries)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
