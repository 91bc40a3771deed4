package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"clinic-inbox/internal/database"
	"clinic-inbox/internal/inbox"
	"clinic-inbox/internal/logger"
	"clinic-inbox/internal/models"
	"clinic-inbox/internal/relay"
	"clinic-inbox/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hubEnv struct {
	server *httptest.Server
	hub    *Hub
	store  *store.Store
	inbox  *inbox.Service
	bus    *relay.Bus
}

func setupHub(t *testing.T) *hubEnv {
	return setupHubWithBus(t, relay.NewBus(logger.Nop()))
}

func setupHubWithBus(t *testing.T, bus *relay.Bus) *hubEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "ws.db"))
	require.NoError(t, err)
	st := store.New(db)
	svc := inbox.NewService(inbox.Deps{Store: st, Bus: bus, Log: logger.Nop()})

	hub := NewHub(bus, svc, logger.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) { hub.ServeWs(c.Writer, c.Request) })
	r.GET("/ws/contacts/:id", func(c *gin.Context) { hub.ServeConversation(c.Writer, c.Request, c.Param("id")) })
	server := httptest.NewServer(r)

	t.Cleanup(func() {
		server.Close()
		cancel()
		svc.Close()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return &hubEnv{server: server, hub: hub, store: st, inbox: svc, bus: bus}
}

func (e *hubEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestConversationSocket(t *testing.T) {
	env := setupHub(t)
	ctx := context.Background()
	c, err := env.store.CreateContact(ctx, &models.Contact{RemoteJID: "jid-1"})
	require.NoError(t, err)
	_, err = env.inbox.Receive(ctx, inbox.Inbound{ContactID: c.ID, Content: "primeira"})
	require.NoError(t, err)

	conn := env.dial(t, "/ws/contacts/"+c.ID)

	first := readFrame(t, conn)
	require.Equal(t, "snapshot", first.Type)
	var snap struct {
		Contact  models.Contact   `json:"contact"`
		Messages []models.Message `json:"messages"`
		Typing   bool             `json:"typing"`
	}
	require.NoError(t, json.Unmarshal(first.Data, &snap))
	assert.Equal(t, 0, snap.Contact.UnreadCount)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "primeira", snap.Messages[0].Content)
	assert.False(t, snap.Typing)
	assert.True(t, env.inbox.Presence().IsOpen(context.Background(), c.ID))

	_, err = env.inbox.Receive(ctx, inbox.Inbound{ContactID: c.ID, Content: "segunda"})
	require.NoError(t, err)

	next := readFrame(t, conn)
	assert.Equal(t, "messages.insert", next.Type)
	var e relay.Event
	require.NoError(t, json.Unmarshal(next.Data, &e))
	require.NotNil(t, e.Message)
	assert.Equal(t, "segunda", e.Message.Content)

	conn.Close()
	assert.Eventually(t, func() bool {
		return !env.inbox.Presence().IsOpen(context.Background(), c.ID)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConversationSocketUnknownContact(t *testing.T) {
	env := setupHub(t)

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws/contacts/missing"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 404, resp.StatusCode)
}

type contactSnapshot struct {
	Contacts []models.Contact `json:"contacts"`
}

func TestContactListSocket(t *testing.T) {
	env := setupHub(t)
	ctx := context.Background()
	existing, err := env.store.CreateContact(ctx, &models.Contact{RemoteJID: "jid-0"})
	require.NoError(t, err)

	// Contacts created before the hub loaded are picked up on register.
	conn := env.dial(t, "/ws")
	first := readFrame(t, conn)
	require.Equal(t, "snapshot", first.Type)
	var snap contactSnapshot
	require.NoError(t, json.Unmarshal(first.Data, &snap))
	require.Len(t, snap.Contacts, 1)
	assert.Equal(t, existing.ID, snap.Contacts[0].ID)

	require.Eventually(t, func() bool {
		return env.hub.ClientCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	c, err := env.inbox.ProvisionContact(ctx, "5511999@s.whatsapp.net", "Ana", "5511999")
	require.NoError(t, err)

	f := readFrame(t, conn)
	assert.Equal(t, "contacts.insert", f.Type)
	var e relay.Event
	require.NoError(t, json.Unmarshal(f.Data, &e))
	require.NotNil(t, e.Contact)
	assert.Equal(t, c.ID, e.Contact.ID)

	// A second client sees both contacts in its first frame.
	other := env.dial(t, "/ws")
	second := readFrame(t, other)
	require.Equal(t, "snapshot", second.Type)
	snap = contactSnapshot{}
	require.NoError(t, json.Unmarshal(second.Data, &snap))
	assert.Len(t, snap.Contacts, 2)

	conn.Close()
	other.Close()
	assert.Eventually(t, func() bool {
		return env.hub.ClientCount() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestContactListSocketResyncsAfterOverflow(t *testing.T) {
	env := setupHubWithBus(t, relay.NewBus(logger.Nop()).WithBuffer(1))
	ctx := context.Background()
	c, err := env.store.CreateContact(ctx, &models.Contact{RemoteJID: "jid-1"})
	require.NoError(t, err)

	conn := env.dial(t, "/ws")
	require.Equal(t, "snapshot", readFrame(t, conn).Type)

	// Stall the hub mid fan-out so its subscription overflows.
	env.hub.mu.Lock()
	for i := 0; i < 10; i++ {
		env.bus.Publish(relay.ContactEvent(relay.OpUpdate, c))
	}
	env.hub.mu.Unlock()

	var resynced bool
	for i := 0; i < 5 && !resynced; i++ {
		f := readFrame(t, conn)
		if f.Type != "snapshot" {
			continue
		}
		var snap contactSnapshot
		require.NoError(t, json.Unmarshal(f.Data, &snap))
		require.Len(t, snap.Contacts, 1)
		assert.Equal(t, c.ID, snap.Contacts[0].ID)
		resynced = true
	}
	assert.True(t, resynced, "client should receive a fresh snapshot after the hub lost events")
}
