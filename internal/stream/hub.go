// Package stream fans stored contacts out to live subscribers and a redis
// channel, and ingests decoded position reports published on redis.
package stream

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/signalsfoundry/ais-contact-manager/internal/logging"
	"github.com/signalsfoundry/ais-contact-manager/kb"
	"github.com/signalsfoundry/ais-contact-manager/model"
)

// Message types carried on the contact stream.
const (
	TypeContact  = "contact"
	TypeImported = "imported"
	TypeCleared  = "cleared"
)

// Message is the JSON envelope published for every store change.
type Message struct {
	Type      string        `json:"type"`
	Contact   *model.Report `json:"contact,omitempty"`
	Vessels   int           `json:"vessels"`
	Snapshots int           `json:"snapshots"`
}

// Metrics receives publish and subscriber counts.
type Metrics interface {
	IncPublished(sink string, ok bool)
	IncIngested(ok bool)
	SetSubscribers(n int)
}

// Client is one local subscriber. Send is closed on Unregister.
type Client struct {
	ID   string
	Send chan []byte
}

// Hub delivers contact messages to local clients without blocking the
// publisher: a client whose buffer is full misses the message. When a
// redis client is configured the same payload is published on channel by
// a background goroutine started with Run.
type Hub struct {
	redis   *redis.Client
	channel string
	buffer  int
	log     logging.Logger
	metrics Metrics

	mu      sync.RWMutex
	clients map[*Client]struct{}

	outbound chan []byte
}

// HubOption customises a Hub.
type HubOption func(*Hub)

// WithRedis publishes every message on channel through rdb.
func WithRedis(rdb *redis.Client, channel string) HubOption {
	return func(h *Hub) {
		h.redis = rdb
		h.channel = channel
	}
}

// WithBuffer sets the per-client and outbound queue size.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithMetrics attaches publish metrics.
func WithMetrics(m Metrics) HubOption {
	return func(h *Hub) { h.metrics = m }
}

// NewHub builds a hub. A nil log drops all logs.
func NewHub(log logging.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = logging.Noop()
	}
	h := &Hub{
		buffer:  64,
		log:     log,
		clients: make(map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.redis != nil {
		h.outbound = make(chan []byte, h.buffer)
	}
	return h
}

// Register adds a local subscriber.
func (h *Hub) Register() *Client {
	c := &Client{ID: uuid.NewString(), Send: make(chan []byte, h.buffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.setSubscribers(n)
	return c
}

// Unregister removes c and closes its Send channel. Calling it twice is
// harmless.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.Send)
	n := len(h.clients)
	h.mu.Unlock()

	h.setSubscribers(n)
}

// Subscribers returns the number of registered local clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast delivers payload to every local client and queues it for
// redis.
func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.Send <- payload:
			h.countPublished("local", true)
		default:
			h.countPublished("local", false)
		}
	}
	h.mu.RUnlock()

	if h.outbound != nil {
		select {
		case h.outbound <- payload:
		default:
			h.countPublished("redis", false)
			h.log.Warn(context.Background(), "redis publish queue full; dropping contact message")
		}
	}
}

// Publish encodes m and broadcasts it.
func (h *Hub) Publish(m Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return err
	}
	h.Broadcast(payload)
	return nil
}

// Attach publishes every change of store until the returned function is
// called.
func (h *Hub) Attach(store *kb.ContactStore) (detach func()) {
	return store.Subscribe(func(ev kb.Event) {
		if err := h.Publish(MessageFor(ev)); err != nil {
			h.log.Warn(context.Background(), "encode contact message failed", logging.Err(err))
		}
	})
}

// MessageFor converts a store event into its wire message.
func MessageFor(ev kb.Event) Message {
	m := Message{Vessels: ev.Vessels, Snapshots: ev.Snapshots}
	switch ev.Type {
	case kb.EventContactReported:
		r := model.ReportOf(ev.Snapshot)
		m.Type = TypeContact
		m.Contact = &r
	case kb.EventContactsImported:
		m.Type = TypeImported
	default:
		m.Type = TypeCleared
	}
	return m
}

// Run drains the redis publish queue until ctx is done. Without redis it
// returns immediately.
func (h *Hub) Run(ctx context.Context) {
	if h.outbound == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-h.outbound:
			err := h.redis.Publish(ctx, h.channel, payload).Err()
			h.countPublished("redis", err == nil)
			if err != nil && ctx.Err() == nil {
				h.log.Warn(ctx, "redis publish failed",
					logging.String("channel", h.channel),
					logging.Err(err),
				)
			}
		}
	}
}

func (h *Hub) countPublished(sink string, ok bool) {
	if h.metrics != nil {
		h.metrics.IncPublished(sink, ok)
	}
}

func (h *Hub) setSubscribers(n int) {
	if h.metrics != nil {
		h.metrics.SetSubscribers(n)
	}
}
