package bus

import (
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Bus is an in-process publish/subscribe event bus with namespace filtering.
type Bus struct {
	mu       sync.RWMutex
	subs     map[int]*subscription
	handlers map[string]int
	stops    map[int]func()
	next     int

	logger  *zap.Logger
	dropped atomic.Uint64
}

type subscription struct {
	namespaces []string
	ch         chan Event
}

func (s *subscription) matches(kind string) bool {
	for _, ns := range s.namespaces {
		if strings.HasPrefix(kind, ns) {
			return true
		}
	}
	return false
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger reports dropped events on logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// New creates a new event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		subs:     make(map[int]*subscription),
		handlers: make(map[string]int),
		stops:    make(map[int]func()),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	return b
}

// Publish sends an event to all subscribers whose namespace is a prefix of
// event.Kind. A subscriber whose buffer is full misses the event; the drop is
// counted and logged.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.matches(evt.Kind) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			n := b.dropped.Add(1)
			b.logger.Warn("event dropped, subscriber full",
				zap.String("kind", evt.Kind),
				zap.Strings("namespaces", sub.namespaces),
				zap.Uint64("dropped_total", n))
		}
	}
}

// Dropped reports how many deliveries were lost to full subscribers.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribe returns a channel that receives events matching the given namespace prefix.
// bufSize controls the channel buffer. Returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	return b.SubscribeMany(bufSize, namespace)
}

// SubscribeMany is Subscribe for several namespaces sharing one channel, so
// events of different namespaces arrive in publish order.
func (b *Bus) SubscribeMany(bufSize int, namespaces ...string) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespaces: namespaces, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Handle runs fn for every event matching namespace, in publish order, on a
// dedicated goroutine. At most one handler exists per key: registering a key
// again replaces the previous handler. The returned func removes the handler
// only if it is still the one registered under key.
func (b *Bus) Handle(namespace, key string, fn func(Event)) func() {
	ch, unsub := b.Subscribe(namespace, 256)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case evt := <-ch:
				fn(evt)
			}
		}
	}()
	stop := sync.OnceFunc(func() {
		unsub()
		close(done)
	})

	b.mu.Lock()
	id := b.next
	b.next++
	prev, replaced := b.handlers[key]
	var prevStop func()
	if replaced {
		prevStop = b.stops[prev]
		delete(b.stops, prev)
	}
	b.handlers[key] = id
	b.stops[id] = stop
	b.mu.Unlock()

	if prevStop != nil {
		prevStop()
	}

	return func() {
		b.mu.Lock()
		if cur, ok := b.handlers[key]; ok && cur == id {
			delete(b.handlers, key)
		}
		delete(b.stops, id)
		b.mu.Unlock()
		stop()
	}
}

// Handlers reports how many keyed handlers are registered.
func (b *Bus) Handlers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
