package session

import (
	"context"
	"sync"
)

type EventType string

const (
	EventSaved   EventType = "saved"
	EventCleared EventType = "cleared"
)

// Event describes a change to the session. Tokens are never included.
type Event struct {
	Type EventType
}

var _ Store = (*ObservedStore)(nil)

// ObservedStore decorates a Store and publishes every successful write to
// subscribers. Each subscriber channel holds one pending event; when a
// subscriber falls behind, the older pending event is replaced by the newer one.
type ObservedStore struct {
	Store

	subscribers map[int]chan Event
	nextID      int
	lock        sync.Mutex
}

func NewObservedStore(inner Store) *ObservedStore {
	return &ObservedStore{
		Store:       inner,
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe returns a channel of session events and a function that
// unsubscribes and closes the channel.
func (o *ObservedStore) Subscribe() (<-chan Event, func()) {
	o.lock.Lock()
	defer o.lock.Unlock()

	id := o.nextID
	o.nextID++
	ch := make(chan Event, 1)
	o.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.lock.Lock()
			defer o.lock.Unlock()
			delete(o.subscribers, id)
			close(ch)
		})
	}
}

func (o *ObservedStore) SaveAll(ctx context.Context, s Session) error {
	if err := o.Store.SaveAll(ctx, s); err != nil {
		return err
	}
	o.publish(Event{Type: EventSaved})
	return nil
}

func (o *ObservedStore) Clear(ctx context.Context) error {
	if err := o.Store.Clear(ctx); err != nil {
		return err
	}
	o.publish(Event{Type: EventCleared})
	return nil
}

func (o *ObservedStore) publish(e Event) {
	o.lock.Lock()
	defer o.lock.Unlock()
	for _, ch := range o.subscribers {
		select {
		case ch <- e:
			continue
		default:
		}
		// Drop the stale pending event and deliver the latest one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- e:
		default:
		}
	}
}
