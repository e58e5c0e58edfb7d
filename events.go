package copydeck

import "sync"

// ============================================================================
// Change notification bus
// ============================================================================

// changeBus broadcasts namespace identifiers to subscribers after a namespace
// is replaced. Delivery is best-effort: each subscriber channel buffers one
// pending event, and a publish never blocks on a slow consumer; if the
// buffer is already full the event is dropped for that subscriber. There is
// no replay; a new subscriber sees only events published after it joined.
type changeBus struct {
	mu     sync.Mutex
	subs   map[int]chan string
	nextID int
	closed bool
}

func newChangeBus() *changeBus {
	return &changeBus{subs: make(map[int]chan string)}
}

// subscribe returns a receive channel and a cancel function. Cancel is
// idempotent and closes the channel.
func (b *changeBus) subscribe() (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan string, 1)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// publish fans the namespace out to every subscriber without blocking.
func (b *changeBus) publish(namespace string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- namespace:
		default:
		}
	}
}

// close shuts the bus down and closes every subscriber channel.
func (b *changeBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
