package service

import (
	"sync"

	"iris/dto"
)

const subscriberBuffer = 64

// Hub fans meeting events out to in-process subscribers. Slow subscribers drop events rather
// than stall the pipeline.
type Hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan dto.MeetingEvent
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan dto.MeetingEvent)}
}

func (h *Hub) Subscribe() (<-chan dto.MeetingEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan dto.MeetingEvent, subscriberBuffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *Hub) Publish(event dto.MeetingEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
