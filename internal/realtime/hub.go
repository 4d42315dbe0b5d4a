// Package realtime fans alert notifications out to connected in-app
// subscribers. Delivery is best effort: a slow or absent subscriber never
// blocks dispatch.
package realtime

import (
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

// Notification is the in-app payload for one fired alert episode.
type Notification struct {
	EpisodeID   string         `json:"episode_id"`
	AlertID     string         `json:"alert_id"`
	AlertName   string         `json:"alert_name"`
	AlertType   string         `json:"alert_type"`
	Priority    string         `json:"priority"`
	Message     string         `json:"message"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	TriggeredAt time.Time      `json:"triggered_at"`
}

type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []Notification
	subs   map[uint64]chan Notification
	nextID uint64
}

type Subscription struct {
	hub    *Hub
	userID string
	id     uint64
	ch     chan Notification
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish delivers the notification to every subscriber of userID without
// blocking. Recent notifications are buffered for replay on subscribe.
func (h *Hub) Publish(userID string, notification Notification) {
	if h == nil {
		return
	}
	key := strings.TrimSpace(userID)
	if key == "" {
		return
	}
	h.mu.RLock()
	stream := h.streams[key]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, notification)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan Notification, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- notification:
		default:
		}
	}
}

// HasSubscribers reports whether anyone is currently listening for userID.
func (h *Hub) HasSubscribers(userID string) bool {
	if h == nil {
		return false
	}
	h.mu.RLock()
	stream := h.streams[strings.TrimSpace(userID)]
	h.mu.RUnlock()
	if stream == nil {
		return false
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	return len(stream.subs) > 0
}

func (h *Hub) Subscribe(userID string) (*Subscription, []Notification, error) {
	if h == nil {
		return nil, nil, errors.New("hub_unavailable")
	}
	key := strings.TrimSpace(userID)
	if key == "" {
		return nil, nil, errors.New("invalid_user")
	}

	stream := h.ensureStream(key)
	stream.mu.Lock()
	if stream.subs == nil {
		stream.subs = make(map[uint64]chan Notification)
	}
	id := stream.nextID
	stream.nextID++
	ch := make(chan Notification, h.subscriberBuffer)
	stream.subs[id] = ch
	buffer := append([]Notification(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{
		hub:    h,
		userID: key,
		id:     id,
		ch:     ch,
	}, buffer, nil
}

func (h *Hub) ensureStream(userID string) *stream {
	h.mu.RLock()
	current := h.streams[userID]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[userID]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan Notification)}
		h.streams[userID] = current
	}
	return current
}

func (h *Hub) unsubscribe(userID string, id uint64) {
	if h == nil {
		return
	}
	key := strings.TrimSpace(userID)
	if key == "" {
		return
	}

	h.mu.RLock()
	stream := h.streams[key]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	delete(stream.subs, id)
	remaining := len(stream.subs)
	stream.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	current := h.streams[key]
	if current != stream {
		h.mu.Unlock()
		return
	}
	stream.mu.Lock()
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, key)
	}
	h.mu.Unlock()
}

func (s *Subscription) Events() <-chan Notification {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.userID, s.id)
	})
}
