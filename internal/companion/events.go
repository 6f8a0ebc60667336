package companion

import (
	"sync"

	"github.com/antoniostano/vistaar/internal/observability"
	"github.com/antoniostano/vistaar/internal/protocol"
)

const defaultSubscriberBuffer = 256

// broadcaster fans session events out to websocket subscribers. A full
// subscriber queue drops the event for that subscriber only.
type broadcaster struct {
	metrics *observability.Metrics

	mu     sync.Mutex
	next   int
	subs   map[int]chan any
	closed bool
}

func newBroadcaster(metrics *observability.Metrics) *broadcaster {
	return &broadcaster{metrics: metrics, subs: make(map[int]chan any)}
}

func (b *broadcaster) subscribe(buffer int) (<-chan any, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan any, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *broadcaster) publish(event any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			if b.metrics != nil {
				b.metrics.WSMessages.WithLabelValues("dropped", string(EventType(event))).Inc()
			}
		}
	}
}

func (b *broadcaster) close() {
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

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// EventType returns the wire type of a session event.
func EventType(event any) protocol.MessageType {
	switch e := event.(type) {
	case protocol.MessageUpdate:
		return e.Type
	case protocol.PlaybackState:
		return e.Type
	case protocol.AudioLevel:
		return e.Type
	case protocol.NoticeEvent:
		return e.Type
	case protocol.Suggestions:
		return e.Type
	case protocol.SystemEvent:
		return e.Type
	case protocol.ErrorEvent:
		return e.Type
	default:
		return "unknown"
	}
}
