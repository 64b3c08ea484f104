package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"searchwatch/internal/catalog"
)

// MutationKind names the catalog operations the scheduler reacts to.
type MutationKind string

const (
	Created MutationKind = "created"
	Updated MutationKind = "updated"
	Deleted MutationKind = "deleted"
)

// Mutation is one catalog write event. Created and Deleted carry the
// affected entities in Workspaces; Updated carries the new side there and
// the pre-update side in OldWorkspaces.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels and drain promptly; slow
//     subscribers may drop events (bounded backpressure).
type Mutation struct {
	Kind          MutationKind
	Time          time.Time
	Workspaces    []catalog.Workspace
	OldWorkspaces []catalog.Workspace
}

type Bus interface {
	Publish(m Mutation)
	Subscribe(buffer int) (ch <-chan Mutation, unsubscribe func())
}

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Mutation{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Mutation
	seq  atomic.Uint64
}

func (b *memBus) Publish(m Mutation) {
	if m.Time.IsZero() {
		m.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Mutation, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- m:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Mutation, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Mutation, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return ch, unsub
}
