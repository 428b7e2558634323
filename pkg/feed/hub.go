package feed

import (
	"fmt"
	"sync"

	"github.com/cbodonnell/starminers/pkg/log"
	"github.com/cbodonnell/starminers/pkg/metrics"
	"github.com/cbodonnell/starminers/pkg/stars"
)

const (
	// SubscriberIDMaxRetries represents the maximum number of retries when generating a unique ID
	SubscriberIDMaxRetries = 1024
	// SubscriberBufferSize is the number of updates held for a slow subscriber
	SubscriberBufferSize = 8
)

// Update is one published state of the global merged view.
type Update struct {
	Sightings []stars.Sighting `json:"sightings"`
	At        int64            `json:"at"`
}

// Subscriber receives published updates on C.
type Subscriber struct {
	ID uint32
	C  <-chan Update
	ch chan Update
}

// Hub manages live feed subscribers
type Hub struct {
	subscribers     map[uint32]*Subscriber
	subscribersLock sync.RWMutex
	nextID          uint32
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[uint32]*Subscriber),
		nextID:      1,
	}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() (*Subscriber, error) {
	h.subscribersLock.Lock()
	defer h.subscribersLock.Unlock()
	id, err := h.generateUniqueID(SubscriberIDMaxRetries)
	if err != nil {
		return nil, fmt.Errorf("failed to generate a unique ID: %v", err)
	}
	ch := make(chan Update, SubscriberBufferSize)
	sub := &Subscriber{
		ID: id,
		C:  ch,
		ch: ch,
	}
	h.subscribers[id] = sub
	metrics.FeedSubscribers.Inc()
	return sub, nil
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id uint32) {
	h.subscribersLock.Lock()
	defer h.subscribersLock.Unlock()

	if sub, exists := h.subscribers[id]; exists {
		delete(h.subscribers, id)
		close(sub.ch)
		metrics.FeedSubscribers.Dec()
	}
}

// Publish fans an update out to every subscriber. Subscribers whose buffer
// is full miss this update rather than stall the others.
func (h *Hub) Publish(update Update) {
	h.subscribersLock.RLock()
	defer h.subscribersLock.RUnlock()

	for id, sub := range h.subscribers {
		select {
		case sub.ch <- update:
		default:
			log.Warn("Dropped feed update for slow subscriber %d", id)
		}
	}
}

// Close unsubscribes everyone, ending their live connections.
func (h *Hub) Close() {
	h.subscribersLock.Lock()
	defer h.subscribersLock.Unlock()

	for id, sub := range h.subscribers {
		delete(h.subscribers, id)
		close(sub.ch)
		metrics.FeedSubscribers.Dec()
	}
}

// Size returns the number of current subscribers.
func (h *Hub) Size() int {
	h.subscribersLock.RLock()
	defer h.subscribersLock.RUnlock()
	return len(h.subscribers)
}

// generateUniqueID must be called with subscribersLock held
func (h *Hub) generateUniqueID(maxRetries int) (uint32, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		id := h.nextID
		h.nextID++
		if id == 0 {
			continue
		}
		if _, ok := h.subscribers[id]; !ok {
			return id, nil
		}
	}

	return 0, fmt.Errorf("failed to generate a unique ID after %d attempts", maxRetries)
}
