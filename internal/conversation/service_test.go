// ABOUTME: Tests for the conversation engine
// ABOUTME: Covers send/receive semantics, unread counters, focus, CRM patches and persistence

package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapflow/zapflow/internal/store"
)

func newTestService(t *testing.T) (*Service, store.Blobs) {
	t.Helper()
	blobs, err := store.NewSQLiteBlobs(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })
	return NewService(context.Background(), blobs, nil, nil), blobs
}

func seedChatID(t *testing.T, svc *Service) string {
	t.Helper()
	chats := svc.Chats()
	require.NotEmpty(t, chats)
	return chats[0].ID
}

func TestNewService_FallsBackToSeedChats(t *testing.T) {
	svc, _ := newTestService(t)

	chats := svc.Chats()
	require.Len(t, chats, 1)
	assert.Equal(t, "Cliente Exemplo", chats[0].CustomerName)
	assert.Equal(t, store.ChatActive, chats[0].Status)
}

func TestSendOperatorMessage(t *testing.T) {
	svc, _ := newTestService(t)
	chatID := seedChatID(t, svc)

	msg, err := svc.SendOperatorMessage(chatID, "u2", "Bom dia!", nil)
	require.NoError(t, err)

	assert.Equal(t, "Bom dia!", msg.Text)
	assert.Equal(t, "u2", msg.SenderID)
	assert.Equal(t, store.MessageSent, msg.Status)
	assert.False(t, msg.IsCustomer)

	chat, err := svc.Chat(chatID)
	require.NoError(t, err)
	assert.Len(t, chat.Messages, 2)
	assert.Equal(t, msg.Timestamp, chat.LastMessageTimestamp)
	// Operators read their own messages, the counter is untouched.
	assert.Equal(t, 1, chat.UnreadCount)
}

func TestSendOperatorMessage_EmptyRejected(t *testing.T) {
	svc, _ := newTestService(t)
	chatID := seedChatID(t, svc)

	_, err := svc.SendOperatorMessage(chatID, "u2", "", nil)
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.SendOperatorMessage(chatID, "u2", "", &Attachment{URL: ""})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendOperatorMessage_AttachmentOnly(t *testing.T) {
	svc, _ := newTestService(t)
	chatID := seedChatID(t, svc)

	msg, err := svc.SendOperatorMessage(chatID, "u2", "", &Attachment{URL: "data:image/png;base64,xx"})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,xx", msg.AttachmentURL)
	assert.Equal(t, store.AttachmentImage, msg.AttachmentType)
}

func TestSendOperatorMessage_ResolvedChatUnchanged(t *testing.T) {
	svc, _ := newTestService(t)
	chatID := seedChatID(t, svc)
	require.NoError(t, svc.SetStatus(chatID, store.ChatResolved))

	before, err := svc.Chat(chatID)
	require.NoError(t, err)

	_, err = svc.SendOperatorMessage(chatID, "u2", "oi?", nil)
	assert.ErrorIs(t, err, ErrChatResolved)

	after, err := svc.Chat(chatID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSendOperatorMessage_UnknownChat(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.SendOperatorMessage("nope", "u2", "oi", nil)
	assert.ErrorIs(t, err, ErrChatNotFound)
}

func TestReceiveCustomerMessage_IncrementsUnread(t *testing.T) {
	svc, _ := newTestService(t)
	chatID := seedChatID(t, svc)

	msg, err := svc.ReceiveCustomerMessage(chatID, "Tudo bem?")
	require.NoError(t, err)
	assert.True(t, msg.IsCustomer)
	assert.Equal(t, store.SenderCustomer, msg.SenderID)
	assert.Equal(t, store.MessageRead, msg.Status)

	chat, err := svc.Chat(chatID)
	require.NoError(t, err)
	assert.Equal(t, 2, chat.UnreadCount)
}

func TestReceiveCustomerMessage_FocusedChatStaysRead(t *testing.T) {
	svc, _ := newTestService(t)
	chatID := seedChatID(t, svc)
	require.NoError(t, svc.SelectChat(chatID))

	_, err := svc.ReceiveCustomerMessage(chatID, "Tudo bem?")
	require.NoError(t, err)

	chat, err := svc.Chat(chatID)
	require.NoError(t, err)
	assert.Equal(t, 0, chat.UnreadCount)
}

func TestSelectChat_ResetsUnreadAndIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	chatID := seedChatID(t, svc)

	require.NoError(t, svc.SelectChat(chatID))
	assert.Equal(t, chatID, svc.FocusedChatID())

	chat, err := svc.Chat(chatID)
	require.NoError(t, err)
	assert.Equal(t, 0, chat.UnreadCount)

	require.NoError(t, svc.SelectChat(chatID))
	assert.Equal(t, chatID, svc.FocusedChatID())
}

func TestSelectChat_UnknownChat(t *testing.T) {
	svc, _ := newTestService(t)
	assert.ErrorIs(t, svc.SelectChat("nope"), ErrChatNotFound)
}

func TestSetStatus_RejectsUnknownStatus(t *testing.T) {
	svc, _ := newTestService(t)
	chatID := seedChatID(t, svc)

	assert.ErrorIs(t, svc.SetStatus(chatID, "archived"), ErrInvalidStatus)
}

func TestSetStatus_ReopenAllowsSending(t *testing.T) {
	svc, _ := newTestService(t)
	chatID := seedChatID(t, svc)

	require.NoError(t, svc.SetStatus(chatID, store.ChatResolved))
	require.NoError(t, svc.SetStatus(chatID, store.ChatActive))

	_, err := svc.SendOperatorMessage(chatID, "u2", "de volta", nil)
	assert.NoError(t, err)
}

func TestTimestamps_MonotonicPerChat(t *testing.T) {
	svc, _ := newTestService(t)
	chatID := seedChatID(t, svc)

	// Freeze the clock, then step it backwards between sends.
	base := time.Now()
	svc.now = func() time.Time { return base }

	first, err := svc.SendOperatorMessage(chatID, "u2", "primeiro", nil)
	require.NoError(t, err)

	svc.now = func() time.Time { return base.Add(-time.Minute) }
	second, err := svc.ReceiveCustomerMessage(chatID, "segundo")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, second.Timestamp, first.Timestamp)

	chat, err := svc.Chat(chatID)
	require.NoError(t, err)
	for i := 1; i < len(chat.Messages); i++ {
		assert.GreaterOrEqual(t, chat.Messages[i].Timestamp, chat.Messages[i-1].Timestamp)
	}
}

func TestUpdateCRMFields_PatchSemantics(t *testing.T) {
	svc, _ := newTestService(t)
	chatID := seedChatID(t, svc)

	before, err := svc.Chat(chatID)
	require.NoError(t, err)

	value := 1500.0
	updated, err := svc.UpdateCRMFields(chatID, CRMFields{CustomerValue: &value})
	require.NoError(t, err)

	assert.Equal(t, 1500.0, updated.CustomerValue)
	assert.Equal(t, before.CustomerName, updated.CustomerName)
	assert.Equal(t, before.CustomerPhone, updated.CustomerPhone)
	assert.Equal(t, before.CustomerEmail, updated.CustomerEmail)

	email := "novo@cliente.com"
	updated, err = svc.UpdateCRMFields(chatID, CRMFields{CustomerEmail: &email})
	require.NoError(t, err)
	assert.Equal(t, "novo@cliente.com", updated.CustomerEmail)
	assert.Equal(t, 1500.0, updated.CustomerValue)
}

func TestCreateChat_PrependsWithUnreadFirstMessage(t *testing.T) {
	svc, _ := newTestService(t)

	chat, err := svc.CreateChat("Maria Silva", "+55 21 98888-0000", "https://example.com/a.png", "Oi")
	require.NoError(t, err)

	assert.Equal(t, 1, chat.UnreadCount)
	assert.Equal(t, store.ChatActive, chat.Status)
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, "Oi", chat.Messages[0].Text)
	assert.True(t, chat.Messages[0].IsCustomer)
	assert.Equal(t, chat.Messages[0].Timestamp, chat.LastMessageTimestamp)

	chats := svc.Chats()
	require.Len(t, chats, 2)
	assert.Equal(t, chat.ID, chats[0].ID)
}

func TestFindByPhoneDigits(t *testing.T) {
	svc, _ := newTestService(t)
	seedID := seedChatID(t, svc)

	tests := []struct {
		name   string
		digits string
		wantID string
		found  bool
	}{
		{"exact digits", "5511999999999", seedID, true},
		{"partial suffix", "99999999", seedID, true},
		{"no match", "5521000000000", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := svc.FindByPhoneDigits(tt.digits)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestFindByPhoneDigits_FirstMatchWins(t *testing.T) {
	svc, _ := newTestService(t)

	// Same digits in both chats; the newer chat sits at the head.
	newer, err := svc.CreateChat("Outro", "+55 11 99999-9999", "", "Oi")
	require.NoError(t, err)

	id, ok := svc.FindByPhoneDigits("5511999999999")
	require.True(t, ok)
	assert.Equal(t, newer.ID, id)
}

func TestService_PersistsAcrossRestart(t *testing.T) {
	svc, blobs := newTestService(t)
	chatID := seedChatID(t, svc)

	_, err := svc.SendOperatorMessage(chatID, "u2", "fica salvo", nil)
	require.NoError(t, err)
	created, err := svc.CreateChat("Novo Cliente", "+55 31 97777-0000", "", "Olá")
	require.NoError(t, err)

	restored := NewService(context.Background(), blobs, nil, nil)

	chats := restored.Chats()
	require.Len(t, chats, 2)
	assert.Equal(t, created.ID, chats[0].ID)

	chat, err := restored.Chat(chatID)
	require.NoError(t, err)
	assert.Equal(t, "fica salvo", chat.Messages[len(chat.Messages)-1].Text)
}

func TestChats_ReturnsCopies(t *testing.T) {
	svc, _ := newTestService(t)

	chats := svc.Chats()
	chats[0].CustomerName = "mutated"
	chats[0].Messages[0].Text = "mutated"

	fresh := svc.Chats()
	assert.Equal(t, "Cliente Exemplo", fresh[0].CustomerName)
	assert.NotEqual(t, "mutated", fresh[0].Messages[0].Text)
}
