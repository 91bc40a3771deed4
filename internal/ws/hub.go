package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"clinic-inbox/internal/inbox"
	"clinic-inbox/internal/logger"
	"clinic-inbox/internal/relay"
	"clinic-inbox/internal/store"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// Client represents a connected WebSocket client
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub maintains the set of contact-list clients. It keeps the contact list
// reconciled from relay events, greets every client with a snapshot of it and
// then streams contact and prompt changes. Conversation sockets are served
// separately, one relay subscription each.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex

	contacts *relay.ContactView

	bus   *relay.Bus
	inbox *inbox.Service
	log   *logger.Logger
}

func NewHub(bus *relay.Bus, inboxService *inbox.Service, log *logger.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		contacts:   relay.NewContactView(nil),
		bus:        bus,
		inbox:      inboxService,
		log:        log.With("component", "ws"),
	}
}

var hubFilter = relay.Filter{
	Tables: []relay.Table{relay.TableContacts, relay.TablePrompts},
}

// Run serves the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	sub := h.bus.Subscribe(hubFilter)
	defer func() { sub.Close() }()
	defer close(h.done)
	h.reload(ctx)
	events := sub.Events()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if payload, err := h.snapshot(); err == nil {
				client.send <- payload
			}
			h.log.Debug("websocket client registered")
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Debug("websocket client unregistered")
		case e, ok := <-events:
			if !ok {
				// Events were lost; rebuild from the store and resend the
				// whole list so clients do not keep a stale view.
				h.log.Warn("hub subscription dropped, resynchronizing")
				sub = h.bus.Subscribe(hubFilter)
				events = sub.Events()
				h.reload(ctx)
				if payload, err := h.snapshot(); err == nil {
					h.fanOut(payload)
				}
				continue
			}
			h.contacts.Apply(e)
			if payload, err := encodeEvent(e); err == nil {
				h.fanOut(payload)
			}
		}
	}
}

func (h *Hub) reload(ctx context.Context) {
	contacts, err := h.inbox.ListContacts(ctx, store.ContactQuery{View: store.ViewAll})
	if err != nil {
		h.log.Error("load contact list", "error", err)
		return
	}
	h.contacts = relay.NewContactView(contacts)
}

func (h *Hub) snapshot() ([]byte, error) {
	payload, err := json.Marshal(WSEvent{
		Type: "snapshot",
		Data: map[string]interface{}{"contacts": h.contacts.Snapshot()},
	})
	if err != nil {
		h.log.Error("marshal contact snapshot", "error", err)
	}
	return payload, err
}

func (h *Hub) fanOut(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// ClientCount reports the number of registered contact-list clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

type WSEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func encodeEvent(e relay.Event) ([]byte, error) {
	return json.Marshal(WSEvent{
		Type: string(e.Table) + "." + string(e.Op),
		Data: e,
	})
}

func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, 256)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
}

// ServeConversation opens the contact's conversation for as long as the
// socket stays connected. The first frame is a snapshot; every later frame
// is a change for that contact.
func (h *Hub) ServeConversation(w http.ResponseWriter, r *http.Request, contactID string) {
	conv, err := h.inbox.Open(r.Context(), contactID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		conv.Close()
		return
	}

	snapshot, err := json.Marshal(WSEvent{
		Type: "snapshot",
		Data: map[string]interface{}{
			"contact":  conv.Contact,
			"messages": conv.Messages(),
			"typing":   h.inbox.IsTyping(r.Context(), contactID),
		},
	})
	if err != nil {
		h.log.Error("marshal snapshot", "error", err)
		conv.Close()
		conn.Close()
		return
	}

	go func() {
		defer conn.Close()
		if err := conn.WriteMessage(websocket.TextMessage, snapshot); err != nil {
			conv.Close()
			return
		}
		for e := range conv.Events() {
			payload, err := encodeEvent(e)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				conv.Close()
				return
			}
		}
		if errors.Is(conv.Err(), inbox.ErrLagged) {
			// The client reconnects to get a fresh snapshot.
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "lagging, reopen conversation"))
			return
		}
		conn.WriteMessage(websocket.CloseMessage, []byte{})
	}()

	go func() {
		defer conv.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		// Clients only listen; anything they send is ignored.
	}
}

func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
	}()
	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
