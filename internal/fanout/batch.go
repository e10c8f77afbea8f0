package fanout

import "time"

// Batch collects events raised inside an atomic unit. Flush them only after the unit commits.
type Batch struct {
	events []Event
}

// Add queues an event.
func (b *Batch) Add(name string, payload any) {
	b.events = append(b.events, Event{Name: name, Payload: payload, Timestamp: time.Now()})
}

// Len returns the number of queued events.
func (b *Batch) Len() int {
	return len(b.events)
}

// Names returns the queued event names in order.
func (b *Batch) Names() []string {
	names := make([]string, len(b.events))
	for i, e := range b.events {
		names[i] = e.Name
	}
	return names
}

// Reset drops every queued event. Used when an atomic unit is retried.
func (b *Batch) Reset() {
	b.events = b.events[:0]
}

// Flush publishes the queued events in order and empties the batch.
func (b *Batch) Flush(p Publisher) {
	for _, e := range b.events {
		p.Publish(e.Name, e.Payload)
	}
	b.Reset()
}
