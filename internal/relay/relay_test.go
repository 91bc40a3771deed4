package relay

import (
	"context"
	"testing"
	"time"

	"clinic-inbox/internal/logger"
	"clinic-inbox/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func assertNoEvent(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFilterMatch(t *testing.T) {
	msg := MessageEvent(OpInsert, &models.Message{ID: "m1", ContactID: "c1"})

	assert.True(t, Filter{}.Match(msg))
	assert.True(t, Filter{ContactID: "c1"}.Match(msg))
	assert.False(t, Filter{ContactID: "c2"}.Match(msg))
	assert.True(t, Filter{Tables: []Table{TableMessages}, Ops: []Op{OpInsert}}.Match(msg))
	assert.False(t, Filter{Tables: []Table{TableContacts}}.Match(msg))
	assert.False(t, Filter{Ops: []Op{OpDelete}}.Match(msg))

	prompt := PromptEvent(OpUpdate, &models.Prompt{ID: "p1"})
	assert.False(t, Filter{ContactID: "c1"}.Match(prompt))
}

func TestBus_PublishToMatchingSubscribers(t *testing.T) {
	bus := NewBus(logger.Nop())
	c1 := bus.Subscribe(Filter{ContactID: "c1"})
	defer c1.Close()
	all := bus.Subscribe(Filter{})
	defer all.Close()

	bus.Publish(MessageEvent(OpInsert, &models.Message{ID: "m1", ContactID: "c1"}))
	bus.Publish(MessageEvent(OpInsert, &models.Message{ID: "m2", ContactID: "c2"}))

	e := recv(t, c1)
	assert.Equal(t, "m1", e.ID)
	assert.Equal(t, bus.Origin(), e.Origin)
	assert.False(t, e.At.IsZero())
	assertNoEvent(t, c1)

	assert.Equal(t, "m1", recv(t, all).ID)
	assert.Equal(t, "m2", recv(t, all).ID)
}

func TestSubscription_CloseIsIdempotent(t *testing.T) {
	bus := NewBus(logger.Nop())
	sub := bus.Subscribe(Filter{})
	assert.Equal(t, 1, bus.Subscribers())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, bus.Subscribers())

	_, ok := <-sub.Events()
	assert.False(t, ok)

	bus.Publish(TypingEvent("c1", true))
}

func TestBus_DropsSlowSubscriber(t *testing.T) {
	bus := NewBus(logger.Nop()).WithBuffer(1)
	slow := bus.Subscribe(Filter{})

	bus.Publish(TypingEvent("c1", true))
	bus.Publish(TypingEvent("c1", false))

	assert.Equal(t, 0, bus.Subscribers())
	e, ok := <-slow.Events()
	require.True(t, ok)
	assert.True(t, e.Typing.Active)
	_, ok = <-slow.Events()
	assert.False(t, ok)

	slow.Close()
}

func TestBus_ForwardOnlyLocalEvents(t *testing.T) {
	bus := NewBus(logger.Nop())
	var forwarded []string
	bus.Forward(func(e Event) { forwarded = append(forwarded, e.ID) })

	bus.Publish(TypingEvent("local", true))
	bus.Deliver(Event{Table: TableTyping, ID: "remote", Origin: "elsewhere"})

	assert.Equal(t, []string{"local"}, forwarded)
}

func TestMessageView_Reconcile(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	view := NewMessageView([]models.Message{
		{ID: "b", CreatedAt: base.Add(time.Minute), Content: "second"},
		{ID: "a", CreatedAt: base, Content: "first"},
	})

	snap := view.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ID)

	assert.True(t, view.Apply(MessageEvent(OpInsert, &models.Message{ID: "c", CreatedAt: base.Add(30 * time.Second)})))
	assert.True(t, view.Apply(MessageEvent(OpUpdate, &models.Message{ID: "b", CreatedAt: base.Add(time.Minute), Content: "edited"})))
	assert.True(t, view.Apply(MessageEvent(OpInsert, &models.Message{ID: "a", CreatedAt: base, Content: "dup"})))

	snap = view.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"a", "c", "b"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})
	assert.Equal(t, "dup", snap[0].Content)
	assert.Equal(t, "edited", snap[2].Content)

	assert.True(t, view.Apply(Event{Table: TableMessages, Op: OpDelete, ID: "c"}))
	assert.False(t, view.Apply(Event{Table: TableMessages, Op: OpDelete, ID: "c"}))
	assert.False(t, view.Apply(TypingEvent("c1", true)))
	assert.Len(t, view.Snapshot(), 2)
}

func TestContactView_Reconcile(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	early, late := base, base.Add(time.Hour)

	view := NewContactView([]models.Contact{
		{ID: "never"},
		{ID: "old", LastMessageAt: &early},
	})
	snap := view.Snapshot()
	assert.Equal(t, "old", snap[0].ID)
	assert.Equal(t, "never", snap[1].ID)

	view.Apply(ContactEvent(OpUpdate, &models.Contact{ID: "never", LastMessageAt: &late, UnreadCount: 1}))
	snap = view.Snapshot()
	assert.Equal(t, "never", snap[0].ID)

	assert.Equal(t, 1, snap[0].UnreadCount)

	view.Apply(ContactEvent(OpInsert, &models.Contact{ID: "new"}))
	assert.Len(t, view.Snapshot(), 3)
	view.Apply(Event{Table: TableContacts, Op: OpDelete, ID: "new"})
	for _, c := range view.Snapshot() {
		assert.NotEqual(t, "new", c.ID)
	}
	assert.Len(t, view.Snapshot(), 2)
}

func TestRedisBridge_CrossInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	busA := NewBus(logger.Nop())
	busB := NewBus(logger.Nop())

	for _, bus := range []*Bus{busA, busB} {
		rdb, err := NewRedisClient(ctx, mr.Addr())
		require.NoError(t, err)
		t.Cleanup(func() { rdb.Close() })
		require.NoError(t, NewRedisBridge(bus, rdb, "test-events", logger.Nop()).Start(ctx))
	}

	subA := busA.Subscribe(Filter{ContactID: "c1"})
	defer subA.Close()
	subB := busB.Subscribe(Filter{ContactID: "c1"})
	defer subB.Close()

	busA.Publish(MessageEvent(OpInsert, &models.Message{ID: "m1", ContactID: "c1", Content: "oi"}))

	local := recv(t, subA)
	assert.Equal(t, "m1", local.ID)

	remote := recv(t, subB)
	assert.Equal(t, "m1", remote.ID)
	require.NotNil(t, remote.Message)
	assert.Equal(t, "oi", remote.Message.Content)
	assert.Equal(t, busA.Origin(), remote.Origin)

	// busA must not receive its own event a second time through Redis.
	assertNoEvent(t, subA)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisClient(context.Background(), addr)
	assert.Error(t, err)
}
