package stages

import (
	"sync"

	"github.com/trinity/guided-upload/internal/models"
)

// FetchTracker enforces fetch-once-per-key. A key is fetched at most once
// concurrently and never again after it loaded successfully. Reset starts a
// new generation; results of fetches begun before it are reported stale.
type FetchTracker struct {
	mu          sync.Mutex
	inFlight    bool
	inFlightKey models.FetchKey
	loaded      bool
	loadedKey   models.FetchKey
	generation  uint64
}

// Ticket identifies one fetch started by Begin.
type Ticket struct {
	Key        models.FetchKey
	generation uint64
}

// Begin claims a fetch for key. It returns false when key is already loaded
// or in flight.
func (t *FetchTracker) Begin(key models.FetchKey) (Ticket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.loaded && t.loadedKey == key {
		return Ticket{}, false
	}
	if t.inFlight && t.inFlightKey == key {
		return Ticket{}, false
	}
	t.inFlight = true
	t.inFlightKey = key
	return Ticket{Key: key, generation: t.generation}, true
}

// Finish records the outcome of a fetch. It returns false when the ticket
// predates the last Reset, in which case the result must be discarded. A
// failed fetch leaves the key unloaded so it can be retried.
func (t *FetchTracker) Finish(tk Ticket, ok bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tk.generation != t.generation {
		return false
	}
	if t.inFlight && t.inFlightKey == tk.Key {
		t.inFlight = false
	}
	if ok {
		t.loaded = true
		t.loadedKey = tk.Key
	}
	return true
}

// Reset forgets the loaded key and any fetch in flight.
func (t *FetchTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	t.inFlight = false
	t.loaded = false
	t.loadedKey = models.FetchKey{}
}

// Loaded reports whether key has loaded successfully.
func (t *FetchTracker) Loaded(key models.FetchKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loaded && t.loadedKey == key
}

// InFlight reports whether a fetch is outstanding.
func (t *FetchTracker) InFlight() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inFlight
}
