package events

import (
	"sync"
	"time"

	"github.com/amanullahtanweer/speaker-recognizer/internal/ratio"
)

type Kind string

const (
	KindLevel Kind = "level"
	KindRatio Kind = "ratio"
)

// Event is a level or ratio notification. Exactly one of Level and
// Ratio is set.
type Event struct {
	Kind  Kind         `json:"type"`
	Level *float64     `json:"level,omitempty"`
	Ratio *ratio.Ratio `json:"ratio,omitempty"`
	At    time.Time    `json:"at"`
}

func LevelChanged(db float64, at time.Time) Event {
	return Event{Kind: KindLevel, Level: &db, At: at}
}

func RatioChanged(r ratio.Ratio, at time.Time) Event {
	return Event{Kind: KindRatio, Ratio: &r, At: at}
}

// Hub fans events out to subscribers. Publish may be called from any
// goroutine; handlers run on the publishing goroutine and must not block.
type Hub struct {
	mu     sync.RWMutex
	next   int
	subs   map[int]func(Event)
	last   *Event
	lastMu sync.Mutex
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]func(Event))}
}

// Subscribe registers fn and returns a function that removes it
func (h *Hub) Subscribe(fn func(Event)) (unsubscribe func()) {
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Publish(e Event) {
	if e.Kind == KindRatio {
		h.lastMu.Lock()
		if h.last == nil || h.last.Ratio.Revision <= e.Ratio.Revision {
			h.last = &e
		}
		h.lastMu.Unlock()
	}

	h.mu.RLock()
	fns := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(e)
	}
}

// LastRatio returns the newest ratio event published so far
func (h *Hub) LastRatio() (Event, bool) {
	h.lastMu.Lock()
	defer h.lastMu.Unlock()
	if h.last == nil {
		return Event{}, false
	}
	return *h.last, true
}

// Subscribers returns the number of registered handlers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
