package album

import (
	"sync"

	pe "wuyrush.io/tourist/errors"
	md "wuyrush.io/tourist/models"
)

// Publisher receives pin and photo events
type Publisher interface {
	Publish(e md.Event) *pe.Err
}

// Listener handles one event. It must not block for long since events are delivered synchronously.
type Listener func(md.Event)

// Broker fans events out to in-process listeners
type Broker struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]Listener
}

func NewBroker() *Broker {
	return &Broker{listeners: make(map[int]Listener)}
}

// Subscribe registers l and returns the function to unregister it
func (b *Broker) Subscribe(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.listeners[id] = l
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

func (b *Broker) Publish(e md.Event) *pe.Err {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.listeners {
		l(e)
	}
	return nil
}
