// ABOUTME: Tests for webhook parsing and delivery
// ABOUTME: Covers the text fallback chain, phone formatting and chat routing

package webhook

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapflow/zapflow/internal/conversation"
	"github.com/zapflow/zapflow/internal/store"
)

func newTestNormalizer(t *testing.T) (*Normalizer, *conversation.Service) {
	t.Helper()
	blobs, err := store.NewSQLiteBlobs(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })

	chats := conversation.NewService(context.Background(), blobs, nil, nil)
	return New(chats, nil), chats
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{
			name: "plain conversation text",
			raw:  `{"data":{"key":{"remoteJid":"5521988887777@s.whatsapp.net"},"pushName":"Maria","message":{"conversation":"Oi"}}}`,
			want: Event{ContactID: "5521988887777", DisplayName: "Maria", Text: "Oi"},
		},
		{
			name: "extended text fallback",
			raw:  `{"data":{"key":{"remoteJid":"5521988887777@s.whatsapp.net"},"pushName":"Maria","message":{"extendedTextMessage":{"text":"Olá!"}}}}`,
			want: Event{ContactID: "5521988887777", DisplayName: "Maria", Text: "Olá!"},
		},
		{
			name: "media without caption",
			raw:  `{"data":{"key":{"remoteJid":"5521988887777@s.whatsapp.net"},"pushName":"Maria","message":{}}}`,
			want: Event{ContactID: "5521988887777", DisplayName: "Maria", Text: "[Mídia Recebida]"},
		},
		{
			name: "missing message object",
			raw:  `{"data":{"key":{"remoteJid":"5521988887777@s.whatsapp.net"},"pushName":"Maria"}}`,
			want: Event{ContactID: "5521988887777", DisplayName: "Maria", Text: "[Mídia Recebida]"},
		},
		{
			name: "missing push name falls back to contact id",
			raw:  `{"data":{"key":{"remoteJid":"5521988887777@s.whatsapp.net"},"message":{"conversation":"Oi"}}}`,
			want: Event{ContactID: "5521988887777", DisplayName: "5521988887777", Text: "Oi"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := Parse([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, &tt.want, event)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"invalid json", `{not json`},
		{"empty object", `{}`},
		{"missing key", `{"data":{"pushName":"Maria"}}`},
		{"empty remoteJid", `{"data":{"key":{"remoteJid":""}}}`},
		{"jid without digits", `{"data":{"key":{"remoteJid":"@s.whatsapp.net"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestFormatPhone(t *testing.T) {
	tests := []struct {
		digits string
		want   string
	}{
		{"5521988887777", "+55 21 98888-7777"},
		{"551199999999", "+55 11 9999-9999"},
		{"55119999", "+55 11 9999"},
		{"5511", "+55 11"},
		{"55", "+55"},
		{"", "+"},
	}

	for _, tt := range tests {
		t.Run(tt.digits, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatPhone(tt.digits))
		})
	}
}

func TestDeliver_CreatesChatForUnknownContact(t *testing.T) {
	n, chats := newTestNormalizer(t)

	raw := `{"data":{"key":{"remoteJid":"5521988887777@s.whatsapp.net"},"pushName":"Maria","message":{"conversation":"Oi"}}}`
	result, err := n.Deliver([]byte(raw))
	require.NoError(t, err)
	assert.True(t, result.Created)

	chat, err := chats.Chat(result.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "Maria", chat.CustomerName)
	assert.Equal(t, "+55 21 98888-7777", chat.CustomerPhone)
	assert.Equal(t, 1, chat.UnreadCount)
	assert.Contains(t, chat.AvatarURL, "ui-avatars.com")
	require.Len(t, chat.Messages, 1)
	assert.Equal(t, "Oi", chat.Messages[0].Text)
	assert.True(t, chat.Messages[0].IsCustomer)

	// The new chat lands at the head of the collection.
	assert.Equal(t, result.ChatID, chats.Chats()[0].ID)
}

func TestDeliver_RoutesToExistingChat(t *testing.T) {
	n, chats := newTestNormalizer(t)
	seedID := chats.Chats()[0].ID

	// The seed chat's phone is +55 11 99999-9999.
	raw := `{"data":{"key":{"remoteJid":"5511999999999@s.whatsapp.net"},"pushName":"Cliente","message":{"conversation":"Ainda tem vaga?"}}}`
	result, err := n.Deliver([]byte(raw))
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, seedID, result.ChatID)

	require.Len(t, chats.Chats(), 1)
	chat, err := chats.Chat(seedID)
	require.NoError(t, err)
	assert.Equal(t, "Ainda tem vaga?", chat.Messages[len(chat.Messages)-1].Text)
	assert.Equal(t, 2, chat.UnreadCount)
}

func TestDeliver_MalformedLeavesCollectionUntouched(t *testing.T) {
	n, chats := newTestNormalizer(t)
	before := chats.Chats()

	_, err := n.Deliver([]byte(`{"data":{}}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)

	assert.Equal(t, before, chats.Chats())
}

func TestDeliver_SecondMessageFromSameContactReusesChat(t *testing.T) {
	n, chats := newTestNormalizer(t)

	payload := func(text string) []byte {
		return fmt.Appendf(nil, `{"data":{"key":{"remoteJid":"5531977770000@s.whatsapp.net"},"pushName":"João","message":{"conversation":%q}}}`, text)
	}

	first, err := n.Deliver(payload("primeira"))
	require.NoError(t, err)
	require.True(t, first.Created)

	second, err := n.Deliver(payload("segunda"))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.ChatID, second.ChatID)

	chat, err := chats.Chat(first.ChatID)
	require.NoError(t, err)
	assert.Len(t, chat.Messages, 2)
	assert.Equal(t, 2, chat.UnreadCount)
}
