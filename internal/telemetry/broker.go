// Package telemetry broadcasts per-tick output samples from running
// instances to any number of subscribers (the websocket API, tests, future
// recorders).
package telemetry

import "sync"

// Sample is one output-port reading taken after a processing tick.
type Sample struct {
	InstanceID uint64  `json:"instance_id"`
	Plugin     string  `json:"plugin"`
	Port       string  `json:"port"`
	Value      float64 `json:"value"`
	Tick       uint64  `json:"tick"`
}

// Broker fans samples out to subscribers. Publishing never blocks: slow
// subscribers have samples dropped rather than stalling the tick loop.
type Broker struct {
	mu      sync.RWMutex
	clients map[chan Sample]uint64 // channel -> instance filter (0 = all)
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{clients: make(map[chan Sample]uint64)}
}

// Subscribe adds a subscriber and returns its sample channel. instanceID
// limits delivery to one instance; 0 receives samples from all instances.
func (b *Broker) Subscribe(instanceID uint64) chan Sample {
	ch := make(chan Sample, 64)
	b.mu.Lock()
	b.clients[ch] = instanceID
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(ch chan Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[ch]; !ok {
		return
	}
	delete(b.clients, ch)
	close(ch)
}

// Publish delivers a sample to all matching subscribers.
func (b *Broker) Publish(s Sample) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, filter := range b.clients {
		if filter != 0 && filter != s.InstanceID {
			continue
		}
		select {
		case ch <- s:
		default:
			// Subscriber too slow, drop the sample.
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
