package api

import (
	"encoding/json"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// SSEClient represents a connected SSE client
type SSEClient struct {
	Channel string
	Events  chan StudyEvent
}

// StudyEvent is a progress event of a running study
type StudyEvent struct {
	Channel   string                 `json:"channel"`
	EventType string                 `json:"event_type"`
	Trial     int                    `json:"trial"`
	Progress  float64                `json:"progress"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// allChannels subscribes a client to every channel.
const allChannels = "*"

// SSEHub manages Server-Sent Events for study progress
type SSEHub struct {
	clients    map[string]map[chan StudyEvent]bool
	clientsMu  sync.RWMutex
	register   chan SSEClient
	unregister chan SSEClient
	broadcast  chan StudyEvent
	done       chan struct{}
	closeOnce  sync.Once
	keepAlive  time.Duration
}

// NewSSEHub creates a new SSE hub
func NewSSEHub() *SSEHub {
	hub := &SSEHub{
		clients:    make(map[string]map[chan StudyEvent]bool),
		register:   make(chan SSEClient, 10),
		unregister: make(chan SSEClient, 10),
		broadcast:  make(chan StudyEvent, 100),
		done:       make(chan struct{}),
		keepAlive:  30 * time.Second,
	}

	go hub.run()
	return hub
}

// Close stops the hub loop.
func (h *SSEHub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// run processes SSE hub operations
func (h *SSEHub) run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			if h.clients[client.Channel] == nil {
				h.clients[client.Channel] = make(map[chan StudyEvent]bool)
			}
			h.clients[client.Channel][client.Events] = true
			log.Printf("[SSE] Client registered for channel %s (total clients: %d)",
				client.Channel, len(h.clients[client.Channel]))
			h.clientsMu.Unlock()

		case client := <-h.unregister:
			h.clientsMu.Lock()
			if clients, exists := h.clients[client.Channel]; exists {
				delete(clients, client.Events)
				close(client.Events)
				if len(clients) == 0 {
					delete(h.clients, client.Channel)
				}
			}
			h.clientsMu.Unlock()

		case event := <-h.broadcast:
			h.clientsMu.RLock()
			for _, key := range []string{event.Channel, allChannels} {
				for clientChan := range h.clients[key] {
					select {
					case clientChan <- event:
					default:
						// Client channel is full, skip
					}
				}
			}
			h.clientsMu.RUnlock()
		}
	}
}

// Broadcast sends an event to all clients listening to its channel
func (h *SSEHub) Broadcast(event StudyEvent) {
	select {
	case h.broadcast <- event:
	default:
		log.Printf("[SSE] Broadcast channel full, dropping event: %s", event.EventType)
	}
}

// HandleSSE streams the events of ?channel=NAME, or of every channel without it
func (h *SSEHub) HandleSSE(c *gin.Context) {
	channel := c.Query("channel")
	if channel == "" {
		channel = allChannels
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	clientChan := make(chan StudyEvent, 10)
	select {
	case h.register <- SSEClient{Channel: channel, Events: clientChan}:
	default:
		c.JSON(500, gin.H{"error": "SSE hub registration failed"})
		return
	}
	defer func() {
		select {
		case h.unregister <- SSEClient{Channel: channel, Events: clientChan}:
		default:
		}
	}()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-clientChan:
			if !ok {
				return false
			}
			eventJSON, err := json.Marshal(event)
			if err != nil {
				log.Printf("[SSE] Failed to marshal event: %v", err)
				return true
			}
			c.SSEvent(event.EventType, string(eventJSON))
			return true

		case <-time.After(h.keepAlive):
			c.SSEvent("ping", `{"status": "alive", "timestamp": "`+time.Now().Format(time.RFC3339)+`"}`)
			return true

		case <-ctx.Done():
			return false
		}
	})
}

// GetClientCount returns the number of active clients for a channel
func (h *SSEHub) GetClientCount(channel string) int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients[channel])
}
