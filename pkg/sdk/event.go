package sdk

import (
	"context"

	"github.com/containust/containust/pkg/id"
	"github.com/containust/containust/pkg/runtime"
)

// EventListener streams lifecycle events from an Engine, optionally
// filtered to a single container — the Go counterpart of
// containust-sdk's event::EventListener, made functional against
// pkg/runtime.Engine's real event bus instead of the crate's
// not-yet-wired PhantomData stub.
type EventListener struct {
	events <-chan runtime.Event
	watch  id.ContainerID // empty means unfiltered
}

// NewEventListener subscribes to engine's event stream.
func NewEventListener(engine *runtime.Engine) *EventListener {
	return &EventListener{events: engine.Events()}
}

// Watch restricts delivery to events concerning cid.
func (l *EventListener) Watch(cid id.ContainerID) *EventListener {
	l.watch = cid
	return l
}

func (l *EventListener) matches(ev runtime.Event) bool {
	if l.watch == "" {
		return true
	}
	switch {
	case ev.StateChange != nil:
		return ev.StateChange.ID == l.watch
	case ev.MetricsUpdate != nil:
		return ev.MetricsUpdate.ID == l.watch
	default:
		return false
	}
}

// Subscribe runs handler for every matching event until ctx is
// cancelled, mirroring the crate's planned (but unimplemented)
// listener.subscribe(|event| ...) API.
func (l *EventListener) Subscribe(ctx context.Context, handler func(runtime.Event)) {
	for {
		select {
		case ev := <-l.events:
			if l.matches(ev) {
				handler(ev)
			}
		case <-ctx.Done():
			return
		}
	}
}
