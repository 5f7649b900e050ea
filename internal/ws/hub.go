// Package ws pushes consent state changes to connected clients in real
// time. Delivery is best effort; the ledger remains the source of truth.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/savegress/careledger/internal/consent"
)

// Message types exchanged with clients
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeConsent     = "consent"
	TypeError       = "error"
	TypePong        = "pong"
)

// Message is the envelope for everything sent to a client
type Message struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Error     string          `json:"error,omitempty"`
}

// Client is one connected websocket peer. Address is the principal's
// ledger address established at upgrade time; clients may only
// subscribe to their own channel.
type Client struct {
	Address       string
	conn          *websocket.Conn
	hub           *Hub
	send          chan []byte
	subscriptions map[string]bool
	mu            sync.Mutex
}

// Hub manages websocket connections and fans consent events out to
// the two addresses each event concerns.
type Hub struct {
	clients    map[*Client]bool
	channels   map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *envelope
	mu         sync.RWMutex
	stopCh     chan struct{}
}

type envelope struct {
	channel string
	message *Message
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		channels:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *envelope, 256),
		stopCh:     make(chan struct{}),
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	for {
		select {
		case <-h.stopCh:
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
		case client := <-h.unregister:
			h.removeClient(client)
		case env := <-h.broadcast:
			h.broadcastToChannel(env)
		}
	}
}

// Stop stops the hub and disconnects every client
func (h *Hub) Stop() {
	close(h.stopCh)
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		client.conn.Close()
	}
}

// NotifyConsent pushes a consent event to both parties of the pair
func (h *Hub) NotifyConsent(event consent.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("ws: marshaling consent event: %v", err)
		return
	}

	for _, addr := range []string{event.Patient, event.Doctor} {
		h.publish(AddressChannel(addr), &Message{
			Type: TypeConsent,
			Data: data,
		})
	}
}

// AddressChannel returns the channel name carrying one address's
// consent events.
func AddressChannel(addr string) string {
	return "consent:" + strings.ToLower(addr)
}

func (h *Hub) publish(channel string, msg *Message) {
	msg.Timestamp = time.Now().UTC()
	msg.Channel = channel
	select {
	case h.broadcast <- &envelope{channel: channel, message: msg}:
	case <-h.stopCh:
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)

		for channel := range client.subscriptions {
			if clients, ok := h.channels[channel]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.channels, channel)
				}
			}
		}
	}
}

func (h *Hub) broadcastToChannel(env *envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.channels[env.channel]
	if !ok {
		return
	}

	data, err := json.Marshal(env.message)
	if err != nil {
		log.Printf("ws: marshaling broadcast message: %v", err)
		return
	}

	for client := range clients {
		select {
		case client.send <- data:
		default:
			// Client buffer full, skip
		}
	}
}

// Subscribe adds a client to a channel
func (h *Hub) Subscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true

	client.mu.Lock()
	client.subscriptions[channel] = true
	client.mu.Unlock()
}

// Unsubscribe removes a client from a channel
func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}

	client.mu.Lock()
	delete(client.subscriptions, channel)
	client.mu.Unlock()
}

// Stats reports connection and channel counts
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	channelStats := make(map[string]int)
	for channel, clients := range h.channels {
		channelStats[channel] = len(clients)
	}

	return map[string]interface{}{
		"total_clients":   len(h.clients),
		"total_channels":  len(h.channels),
		"channel_clients": channelStats,
	}
}

// NewClient creates a client bound to an authenticated address and
// registers it with the hub, pre-subscribed to its own channel.
func NewClient(hub *Hub, conn *websocket.Conn, address string) *Client {
	c := &Client{
		Address:       address,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
	hub.register <- c
	hub.Subscribe(c, AddressChannel(address))
	return c
}

// ReadPump reads control messages from the connection
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("ws: read error: %v", err)
				}
				return
			}

			c.handleMessage(message)
		}
	}
}

// WritePump writes queued messages and keepalive pings
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg struct {
		Type    string `json:"type"`
		Address string `json:"address"`
	}

	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("invalid message format")
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		// A client only ever sees its own consent channel
		if !strings.EqualFold(msg.Address, c.Address) {
			c.sendError("cannot subscribe to another principal's channel")
			return
		}
		c.hub.Subscribe(c, AddressChannel(msg.Address))

	case TypeUnsubscribe:
		c.hub.Unsubscribe(c, AddressChannel(msg.Address))

	case "ping":
		c.sendPong()

	default:
		c.sendError("unknown message type")
	}
}

func (c *Client) sendError(errMsg string) {
	msg := &Message{
		Type:      TypeError,
		Error:     errMsg,
		Timestamp: time.Now().UTC(),
	}
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendPong() {
	msg := &Message{
		Type:      TypePong,
		Timestamp: time.Now().UTC(),
	}
	data, _ := json.Marshal(msg)
	select {
	case c.send <- data:
	default:
	}
}
