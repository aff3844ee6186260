package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hub fans connection events out to observers.
// ARCHITECTURAL DISCOVERY: A single delivery goroutine keeps observers out of the
// connection manager's lock and guarantees every observer sees events in publish order
type Hub struct {
	logger *zap.Logger

	// FUNCTIONAL DISCOVERY: The pending queue is unbounded so Publish never blocks
	// the manager, even while an observer is slow
	queueMu sync.Mutex
	pending []Event
	wake    chan struct{}

	observerMu sync.RWMutex
	observers  []observerEntry
	nextID     uint64

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running  bool
	mu       sync.RWMutex
	shutdown chan struct{}
	done     chan struct{}
}

type observerEntry struct {
	id       uint64
	observer Observer
}

// NewHub creates a stopped hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger.Named("hub"),
		wake:   make(chan struct{}, 1),
	}
}

// Start begins delivery. Cancelling ctx stops delivery like Stop does, but
// events still pending at that moment are dropped.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})
	shutdown, done := h.shutdown, h.done
	h.mu.Unlock()

	h.logger.Debug("starting event hub")
	go h.run(ctx, shutdown, done)
	return nil
}

// Stop delivers every event published so far, then stops the delivery
// goroutine. It returns once delivery has finished.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Debug("event hub stopped")
	return nil
}

// Running reports whether the hub accepts events.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Publish queues e for delivery. It never blocks.
func (h *Hub) Publish(e Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	h.queueMu.Lock()
	h.pending = append(h.pending, e)
	h.queueMu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
	return nil
}

// Subscribe registers o and returns a function that removes it. Observers
// added while events are pending receive them from the next batch on.
func (h *Hub) Subscribe(o Observer) (func(), error) {
	if o == nil {
		return nil, ErrNilObserver
	}
	h.observerMu.Lock()
	h.nextID++
	id := h.nextID
	h.observers = append(h.observers, observerEntry{id: id, observer: o})
	h.observerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.unsubscribe(id) })
	}, nil
}

func (h *Hub) unsubscribe(id uint64) {
	h.observerMu.Lock()
	defer h.observerMu.Unlock()
	for i, entry := range h.observers {
		if entry.id == id {
			h.observers = append(h.observers[:i:i], h.observers[i+1:]...)
			return
		}
	}
}

func (h *Hub) run(ctx context.Context, shutdown, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-h.wake:
			h.deliverPending()

		case <-shutdown:
			h.deliverPending()
			return

		case <-ctx.Done():
			select {
			case <-shutdown:
				h.deliverPending()
				return
			default:
			}
			h.logger.Debug("hub context cancelled")
			h.mu.Lock()
			if h.done == done {
				h.running = false
			}
			h.mu.Unlock()
			h.dropPending()
			return
		}
	}
}

func (h *Hub) deliverPending() {
	for {
		h.queueMu.Lock()
		batch := h.pending
		h.pending = nil
		h.queueMu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			h.deliver(e)
		}
	}
}

func (h *Hub) dropPending() {
	h.queueMu.Lock()
	dropped := len(h.pending)
	h.pending = nil
	h.queueMu.Unlock()
	if dropped > 0 {
		h.logger.Warn("dropped undelivered events", zap.Int("count", dropped))
	}
}

func (h *Hub) deliver(e Event) {
	h.observerMu.RLock()
	observers := make([]Observer, len(h.observers))
	for i, entry := range h.observers {
		observers[i] = entry.observer
	}
	h.observerMu.RUnlock()

	for _, o := range observers {
		h.safeDeliver(o, e)
	}
}

// safeDeliver keeps one panicking observer from stopping delivery to the rest.
func (h *Hub) safeDeliver(o Observer, e Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("observer panicked",
				zap.Stringer("event", e.Kind),
				zap.Any("panic", r))
		}
	}()
	o.OnEvent(e)
}
