package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"clinic-inbox/internal/database"
	"clinic-inbox/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return New(db)
}

func strPtr(s string) *string { return &s }

func seedContact(t *testing.T, s *Store, jid, name, phone string) *models.Contact {
	t.Helper()
	c := &models.Contact{RemoteJID: jid}
	if name != "" {
		c.Name = strPtr(name)
	}
	if phone != "" {
		c.PhoneNumber = strPtr(phone)
	}
	out, err := s.CreateContact(context.Background(), c)
	require.NoError(t, err)
	return out
}

func TestAppendMessage_TouchesContact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedContact(t, s, "5511@s.whatsapp.net", "Maria", "")

	msg, contact, err := s.AppendMessage(ctx, &models.Message{
		ContactID:  c.ID,
		Content:    "oi",
		SenderType: models.SenderContact,
		Status:     models.StatusReceived,
	}, &Touch{UnreadDelta: 1})
	require.NoError(t, err)
	require.NotNil(t, contact)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, 1, contact.UnreadCount)
	require.NotNil(t, contact.LastMessageAt)
	assert.WithinDuration(t, msg.CreatedAt, *contact.LastMessageAt, time.Millisecond)
}

func TestAppendMessage_NoTouch(t *testing.T) {
	s := newTestStore(t)
	c := seedContact(t, s, "jid-1", "", "")

	_, contact, err := s.AppendMessage(context.Background(), &models.Message{
		ContactID:  c.ID,
		Content:    "sugestão",
		SenderType: models.SenderBot,
		IsDraft:    true,
		Status:     models.StatusDraft,
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, contact)

	got, err := s.GetContact(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastMessageAt)
}

func TestAppendMessage_RejectsNonBotDraft(t *testing.T) {
	s := newTestStore(t)
	c := seedContact(t, s, "jid-1", "", "")

	_, _, err := s.AppendMessage(context.Background(), &models.Message{
		ContactID:  c.ID,
		Content:    "x",
		SenderType: models.SenderUser,
		IsDraft:    true,
	}, nil)
	assert.ErrorIs(t, err, models.ErrDraftNotBot)

	msgs, err := s.ListMessages(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestAppendMessage_UnknownContact(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.AppendMessage(context.Background(), &models.Message{
		ContactID:  "missing",
		Content:    "x",
		SenderType: models.SenderUser,
	}, &Touch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendMessage_ConcurrentUnreadIncrements(t *testing.T) {
	s := newTestStore(t)
	c := seedContact(t, s, "jid-1", "", "")

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.AppendMessage(context.Background(), &models.Message{
				ContactID:  c.ID,
				Content:    "msg",
				SenderType: models.SenderContact,
				Status:     models.StatusReceived,
			}, &Touch{UnreadDelta: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetContact(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.UnreadCount)
}

func TestResetUnread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedContact(t, s, "jid-1", "", "")

	_, _, err := s.AppendMessage(ctx, &models.Message{ContactID: c.ID, Content: "a", SenderType: models.SenderContact}, &Touch{UnreadDelta: 3})
	require.NoError(t, err)

	got, changed, err := s.ResetUnread(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 0, got.UnreadCount)

	_, changed, err = s.ResetUnread(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, changed)

	_, _, err = s.ResetUnread(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListMessages_OrderedByCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedContact(t, s, "jid-1", "", "")

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, content := range []string{"third", "first", "second"} {
		offsets := []time.Duration{2 * time.Minute, 0, time.Minute}
		_, _, err := s.AppendMessage(ctx, &models.Message{
			ContactID:  c.ID,
			Content:    content,
			SenderType: models.SenderUser,
			CreatedAt:  base.Add(offsets[i]),
		}, nil)
		require.NoError(t, err)
	}

	msgs, err := s.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	assert.Equal(t, "third", msgs[2].Content)
}

func TestDraftOperations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedContact(t, s, "jid-1", "", "")

	draft, _, err := s.AppendMessage(ctx, &models.Message{
		ContactID:  c.ID,
		Content:    "rascunho",
		SenderType: models.SenderBot,
		IsDraft:    true,
		Status:     models.StatusDraft,
	}, nil)
	require.NoError(t, err)

	edited, err := s.UpdateDraftContent(ctx, draft.ID, "rascunho editado")
	require.NoError(t, err)
	assert.True(t, edited.IsDraft)
	assert.Equal(t, "rascunho editado", edited.Content)

	approved, err := s.ApproveDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.False(t, approved.IsDraft)
	assert.Equal(t, models.StatusSent, approved.Status)
	assert.Equal(t, "rascunho editado", approved.Content)
	assert.True(t, draft.CreatedAt.Equal(approved.CreatedAt))

	_, err = s.ApproveDraft(ctx, draft.ID)
	assert.ErrorIs(t, err, ErrNotDraft)
	_, err = s.UpdateDraftContent(ctx, draft.ID, "late edit")
	assert.ErrorIs(t, err, ErrNotDraft)
	_, err = s.DeleteDraft(ctx, draft.ID)
	assert.ErrorIs(t, err, ErrNotDraft)
	_, err = s.ApproveDraft(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDraft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedContact(t, s, "jid-1", "", "")

	draft, _, err := s.AppendMessage(ctx, &models.Message{
		ContactID: c.ID, Content: "x", SenderType: models.SenderBot, IsDraft: true, Status: models.StatusDraft,
	}, nil)
	require.NoError(t, err)

	deleted, err := s.DeleteDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, deleted.ContactID)

	_, err = s.GetMessage(ctx, draft.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListContacts_FilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	maria := seedContact(t, s, "jid-maria", "Maria Souza", "+55 11 91111")
	joao := seedContact(t, s, "jid-joao", "João", "+55 21 92222")
	silent := seedContact(t, s, "jid-silent", "Mariana", "")

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	_, _, err := s.AppendMessage(ctx, &models.Message{ContactID: maria.ID, Content: "a", SenderType: models.SenderContact, CreatedAt: base}, &Touch{UnreadDelta: 1})
	require.NoError(t, err)
	_, _, err = s.AppendMessage(ctx, &models.Message{ContactID: joao.ID, Content: "b", SenderType: models.SenderUser, CreatedAt: base.Add(time.Hour)}, &Touch{})
	require.NoError(t, err)
	_, err = s.UpdateContact(ctx, joao.ID, ContactPatch{AIEnabled: boolPtr(true)})
	require.NoError(t, err)

	all, err := s.ListContacts(ctx, ContactQuery{View: ViewAll})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, joao.ID, all[0].ID)
	assert.Equal(t, maria.ID, all[1].ID)
	assert.Equal(t, silent.ID, all[2].ID)

	unread, err := s.ListContacts(ctx, ContactQuery{View: ViewUnread})
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, maria.ID, unread[0].ID)

	ai, err := s.ListContacts(ctx, ContactQuery{View: ViewAI})
	require.NoError(t, err)
	require.Len(t, ai, 1)
	assert.Equal(t, joao.ID, ai[0].ID)

	byName, err := s.ListContacts(ctx, ContactQuery{Search: "MARI"})
	require.NoError(t, err)
	assert.Len(t, byName, 2)

	byPhone, err := s.ListContacts(ctx, ContactQuery{Search: "21 92"})
	require.NoError(t, err)
	require.Len(t, byPhone, 1)
	assert.Equal(t, joao.ID, byPhone[0].ID)

	combined, err := s.ListContacts(ctx, ContactQuery{Search: "mari", View: ViewUnread})
	require.NoError(t, err)
	require.Len(t, combined, 1)
	assert.Equal(t, maria.ID, combined[0].ID)

	page, err := s.ListContacts(ctx, ContactQuery{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, maria.ID, page[0].ID)

	literal, err := s.ListContacts(ctx, ContactQuery{Search: "%"})
	require.NoError(t, err)
	assert.Empty(t, literal)
}

func boolPtr(b bool) *bool { return &b }

func TestToggleAI(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedContact(t, s, "jid-1", "", "")

	got, err := s.ToggleAI(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.AIEnabled)

	got, err = s.ToggleAI(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, got.AIEnabled)

	_, err = s.ToggleAI(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertContactByRemoteJID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, created, err := s.UpsertContactByRemoteJID(ctx, "5511@s.whatsapp.net", "Ana", "5511")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Ana", *c.Name)

	again, created, err := s.UpsertContactByRemoteJID(ctx, "5511@s.whatsapp.net", "Other", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, "Ana", *again.Name)
}

func TestUpdateContact_Tags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedContact(t, s, "jid-1", "", "")

	tags := []string{"urgent", "triage"}
	got, err := s.UpdateContact(ctx, c.ID, ContactPatch{Tags: &tags, Persona: strPtr("pediatria")})
	require.NoError(t, err)
	assert.Equal(t, []string{"urgent", "triage"}, []string(got.Tags))
	assert.Equal(t, "pediatria", got.Persona)

	_, err = s.UpdateContact(ctx, "missing", ContactPatch{Persona: strPtr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActivatePrompt_Exclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for _, title := range []string{"Triagem", "Pós-consulta", "Agenda"} {
		p, err := s.CreatePrompt(ctx, &models.Prompt{Title: title, Content: "c", ResponseDelay: 3})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	for _, target := range []string{ids[0], ids[2], ids[2]} {
		prompts, err := s.ActivatePrompt(ctx, target)
		require.NoError(t, err)
		active := 0
		for _, p := range prompts {
			if p.IsActive {
				active++
				assert.Equal(t, target, p.ID)
			}
		}
		assert.Equal(t, 1, active)
	}

	got, err := s.ActivePrompt(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[2], got.ID)

	_, err = s.ActivatePrompt(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	got, err = s.ActivePrompt(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[2], got.ID)
}

func TestActivatePrompt_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		p, err := s.CreatePrompt(ctx, &models.Prompt{Title: "p", Content: "c", ResponseDelay: 3})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := s.ActivatePrompt(ctx, id)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	prompts, err := s.ListPrompts(ctx)
	require.NoError(t, err)
	active := 0
	for _, p := range prompts {
		if p.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestActivePrompt_NoneActive(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ActivePrompt(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedContact(t, s, "jid-1", "", "")

	_, _, err := s.AppendMessage(ctx, &models.Message{ContactID: c.ID, Content: "a", SenderType: models.SenderContact}, &Touch{UnreadDelta: 2})
	require.NoError(t, err)
	_, _, err = s.AppendMessage(ctx, &models.Message{ContactID: c.ID, Content: "b", SenderType: models.SenderBot, IsDraft: true}, nil)
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Contacts)
	assert.EqualValues(t, 1, st.UnreadContacts)
	assert.EqualValues(t, 2, st.UnreadMessages)
	assert.EqualValues(t, 1, st.PendingDrafts)
	assert.EqualValues(t, 2, st.MessagesToday)
}
