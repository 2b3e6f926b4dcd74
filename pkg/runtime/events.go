package runtime

import (
	"sync"
	"time"

	"github.com/containust/containust/pkg/id"
	"github.com/containust/containust/pkg/state"
)

// StateChange is emitted whenever a container's state machine
// transitions, feeding the SDK's event stream (SPEC_FULL.md's
// supplemented "programmatic façade" feature — original_source's
// sdk_*.rs examples expose an equivalent event).
type StateChange struct {
	ID   id.ContainerID
	Name string
	From state.ContainerState
	To   state.ContainerState
	At   time.Time
}

// MetricsUpdate is emitted on every metrics sample of a running
// container (SPEC_FULL.md's supplemented metrics-sampling feature,
// spec.md §4.5 "Runtime engine": "metrics sampling").
type MetricsUpdate struct {
	ID           id.ContainerID
	CPUUsageUsec uint64
	MemoryBytes  uint64
	At           time.Time
}

// Event is the union of everything the engine publishes.
type Event struct {
	StateChange   *StateChange
	MetricsUpdate *MetricsUpdate
}

// eventBus is a small fan-out broadcaster: one send-side (the engine),
// any number of read-only subscribers. Slow or absent subscribers
// never block the engine — sends are non-blocking and drop on a full
// channel, since observability must never gate container lifecycle.
type eventBus struct {
	mu          sync.Mutex
	subscribers []chan Event
}

func (b *eventBus) subscribe(buffer int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, buffer)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}
