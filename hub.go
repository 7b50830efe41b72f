package timevault

import (
	"slices"
	"sync"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/closer"
	"github.com/kode4food/caravan/message"
	"github.com/kode4food/caravan/topic"
)

type (
	// EventHub fans committed events out to in-process consumers. Events
	// are only sent when at least one open Consumer is interested in them
	EventHub struct {
		inner    topic.Topic[*Event]
		producer topic.Producer[*Event]
		registry *registry
	}

	// Consumer receives the committed events matching its interests, in
	// log order. A new Consumer may first see events still retained from
	// before it was created
	Consumer struct {
		inner     topic.Consumer[*Event]
		interests *interests
		registry  *registry
		filtered  <-chan *Event
		once      sync.Once
		closeOnce sync.Once
	}

	// registry tracks the interests of open consumers
	registry struct {
		mu        sync.RWMutex
		interests map[*interests]struct{}
	}

	// interests describes what events a consumer wants
	interests struct {
		kinds  []EventKind // empty = all kinds
		record RecordID    // empty = all records
	}
)

// NewEventHub creates an EventHub over a caravan Topic
func NewEventHub(inner topic.Topic[*Event]) *EventHub {
	return &EventHub{
		inner:    inner,
		producer: inner.NewProducer(),
		registry: &registry{
			interests: map[*interests]struct{}{},
		},
	}
}

func newEventHub() *EventHub {
	return NewEventHub(caravan.NewTopic[*Event]())
}

// NewConsumer creates a consumer interested in the given event kinds. If no
// kinds are specified, the consumer receives every committed event
func (h *EventHub) NewConsumer(kinds ...EventKind) *Consumer {
	return h.newConsumer(&interests{kinds: kinds})
}

// NewRecordConsumer creates a consumer interested in writes to one record.
// Rollback markers apply to every record and are delivered as well, unless
// kinds excludes them
func (h *EventHub) NewRecordConsumer(id RecordID, kinds ...EventKind) *Consumer {
	return h.newConsumer(&interests{kinds: kinds, record: id})
}

func (h *EventHub) newConsumer(i *interests) *Consumer {
	h.registry.register(i)
	return &Consumer{
		inner:     h.inner.NewConsumer(),
		interests: i,
		registry:  h.registry,
	}
}

// publish must be called in log order. Each event is sent as a copy so
// consumers cannot reach the log's own events
func (h *EventHub) publish(evs ...*Event) {
	for _, ev := range evs {
		if !h.registry.hasSubscribers(ev) {
			continue
		}
		if !message.Send[*Event](h.producer, ev.Clone()) {
			return
		}
	}
}

func (h *EventHub) close() {
	h.producer.Close()
	if c, ok := h.inner.(closer.Closer); ok {
		c.Close()
	}
}

// Receive returns the channel of matching events. The channel is closed
// once the Consumer is closed
func (c *Consumer) Receive() <-chan *Event {
	c.once.Do(func() {
		filtered := make(chan *Event, 1)

		go func() {
			defer close(filtered)
			for ev := range c.inner.Receive() {
				if !c.interests.matches(ev) {
					continue
				}
				select {
				case filtered <- ev:
				case <-c.inner.IsClosed():
					return
				}
			}
		}()

		c.filtered = filtered
	})

	return c.filtered
}

// Close stops delivery and releases the consumer's place in the topic
func (c *Consumer) Close() error {
	c.closeOnce.Do(func() {
		c.registry.unregister(c.interests)
		c.inner.Close()
	})
	return nil
}

func (i *interests) matches(ev *Event) bool {
	if len(i.kinds) > 0 && !slices.Contains(i.kinds, ev.Kind) {
		return false
	}
	if i.record != "" && ev.Kind == KindWrite {
		return ev.RecordID == i.record
	}
	return true
}

func (r *registry) register(i *interests) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interests[i] = struct{}{}
}

func (r *registry) unregister(i *interests) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.interests, i)
}

func (r *registry) hasSubscribers(ev *Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.interests {
		if i.matches(ev) {
			return true
		}
	}
	return false
}
