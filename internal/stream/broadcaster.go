package stream

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Broadcaster fans out PCM frames from one source to N listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives PCM frames from the broadcaster.
type Listener struct {
	ID   string
	C    chan []int16 // buffered channel of 20ms PCM frames
	done chan struct{}
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[*Listener]struct{}),
	}
}

// Subscribe registers a new listener. Returns a Listener that receives frames.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		ID:   uuid.NewString(),
		C:    make(chan []int16, 150), // ~3 seconds of buffer at 20ms/frame
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	delete(b.listeners, l)
	b.mu.Unlock()
	close(l.done)
}

// ListenerCount returns the number of active listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// ListenerIDs returns the IDs of active listeners, for status reporting.
func (b *Broadcaster) ListenerIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.listeners))
	for l := range b.listeners {
		ids = append(ids, l.ID)
	}
	return ids
}

// Run reads frames from source and fans out to all listeners.
// Slow listeners get frames dropped rather than blocking the broadcast.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []int16) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- frame:
				default:
					// listener too slow, drop frame to keep broadcast moving
				}
			}
			b.mu.RUnlock()
		}
	}
}
