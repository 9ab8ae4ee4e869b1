// ABOUTME: Tests for the reply simulator
// ABOUTME: Covers chat binding, fallback texts, composing state and transcript building

package simulator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapflow/zapflow/internal/conversation"
	"github.com/zapflow/zapflow/internal/store"
)

type stubGenerator struct {
	reply string
	err   error
	seen  []Turn
}

func (g *stubGenerator) Generate(_ context.Context, transcript []Turn, _ string) (string, error) {
	g.seen = transcript
	return g.reply, g.err
}

func newTestChats(t *testing.T) *conversation.Service {
	t.Helper()
	blobs, err := store.NewSQLiteBlobs(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })
	return conversation.NewService(context.Background(), blobs, nil, nil)
}

func lastMessage(t *testing.T, chats *conversation.Service, chatID string) *store.Message {
	t.Helper()
	chat, err := chats.Chat(chatID)
	require.NoError(t, err)
	require.NotEmpty(t, chat.Messages)
	return chat.Messages[len(chat.Messages)-1]
}

func waitForMessages(t *testing.T, chats *conversation.Service, chatID string, count int) {
	t.Helper()
	require.Eventually(t, func() bool {
		chat, err := chats.Chat(chatID)
		return err == nil && len(chat.Messages) >= count
	}, 2*time.Second, 5*time.Millisecond)
}

func TestTrigger_AppendsGeneratedReply(t *testing.T) {
	chats := newTestChats(t)
	chatID := chats.Chats()[0].ID
	gen := &stubGenerator{reply: "Pode me mandar o catálogo?"}
	sim := New(chats, gen, nil, time.Millisecond, 2*time.Millisecond, nil)

	_, err := chats.SendOperatorMessage(chatID, "u2", "Posso ajudar?", nil)
	require.NoError(t, err)
	sim.Trigger(chatID)

	waitForMessages(t, chats, chatID, 3)

	msg := lastMessage(t, chats, chatID)
	assert.Equal(t, "Pode me mandar o catálogo?", msg.Text)
	assert.True(t, msg.IsCustomer)
	assert.Equal(t, store.SenderCustomer, msg.SenderID)
}

func TestTrigger_ReplyBoundToTriggeredChat(t *testing.T) {
	chats := newTestChats(t)
	chatA := chats.Chats()[0].ID
	chatB, err := chats.CreateChat("Outro Cliente", "+55 21 90000-0000", "", "Oi")
	require.NoError(t, err)

	sim := New(chats, &stubGenerator{reply: "resposta"}, nil, 5*time.Millisecond, 10*time.Millisecond, nil)

	require.NoError(t, chats.SelectChat(chatA))
	sim.Trigger(chatA)

	// Focus moves to another chat while the reply is pending.
	require.NoError(t, chats.SelectChat(chatB.ID))

	waitForMessages(t, chats, chatA, 2)

	assert.Equal(t, "resposta", lastMessage(t, chats, chatA).Text)

	b, err := chats.Chat(chatB.ID)
	require.NoError(t, err)
	assert.Len(t, b.Messages, 1)

	// Chat A is no longer focused, so the reply counts as unread there.
	a, err := chats.Chat(chatA)
	require.NoError(t, err)
	assert.Equal(t, 1, a.UnreadCount)
}

func TestGenerate_FallbackTexts(t *testing.T) {
	tests := []struct {
		name string
		gen  Generator
		want string
	}{
		{"nil generator", nil, "O assistente virtual está temporariamente indisponível (API Key não configurada)."},
		{"unavailable", &stubGenerator{err: ErrUnavailable}, "O assistente virtual está temporariamente indisponível (API Key não configurada)."},
		{"generation error", &stubGenerator{err: errors.New("boom")}, "Desculpe, não entendi."},
		{"empty reply", &stubGenerator{reply: ""}, "..."},
		{"normal reply", &stubGenerator{reply: "Certo!"}, "Certo!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chats := newTestChats(t)
			sim := New(chats, tt.gen, nil, time.Millisecond, 2*time.Millisecond, nil)
			assert.Equal(t, tt.want, sim.generate("Cliente", nil))
		})
	}
}

func TestComposing_TracksPendingReply(t *testing.T) {
	chats := newTestChats(t)
	chatID := chats.Chats()[0].ID
	sim := New(chats, &stubGenerator{reply: "ok"}, nil, 20*time.Millisecond, 40*time.Millisecond, nil)

	assert.False(t, sim.Composing(chatID))
	sim.Trigger(chatID)
	assert.True(t, sim.Composing(chatID))

	require.Eventually(t, func() bool {
		return !sim.Composing(chatID)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestComposing_PublishesEvents(t *testing.T) {
	chats := newTestChats(t)
	chatID := chats.Chats()[0].ID
	bcast := conversation.NewBroadcaster(nil)
	ch, _ := bcast.Subscribe(context.Background())

	sim := New(chats, &stubGenerator{reply: "ok"}, bcast, time.Millisecond, 2*time.Millisecond, nil)
	sim.Trigger(chatID)

	var composing []bool
	deadline := time.After(2 * time.Second)
	for len(composing) < 2 {
		select {
		case ev := <-ch:
			if ev.Type == conversation.EventComposing {
				composing = append(composing, ev.Composing)
			}
		case <-deadline:
			t.Fatal("timed out waiting for composing events")
		}
	}
	assert.Equal(t, []bool{true, false}, composing)
}

func TestTrigger_UnknownChatIsNoOp(t *testing.T) {
	chats := newTestChats(t)
	sim := New(chats, &stubGenerator{reply: "ok"}, nil, time.Millisecond, 2*time.Millisecond, nil)

	sim.Trigger("nope")
	assert.False(t, sim.Composing("nope"))
}

func TestBuildTranscript(t *testing.T) {
	messages := []*store.Message{
		{Text: "Olá", IsCustomer: true},
		{Text: "Bom dia, posso ajudar?"},
		{Text: "", IsCustomer: true, AttachmentType: store.AttachmentAudio},
		{Text: "", AttachmentType: store.AttachmentImage},
		{Text: "", AttachmentType: store.AttachmentAudio},
	}

	turns := buildTranscript(messages)
	require.Len(t, turns, 5)

	assert.Equal(t, Turn{Role: RoleCustomer, Text: "Olá"}, turns[0])
	assert.Equal(t, Turn{Role: RoleOperator, Text: "Bom dia, posso ajudar?"}, turns[1])
	assert.Equal(t, Turn{Role: RoleCustomer, Text: "[Áudio]"}, turns[2])
	assert.Equal(t, Turn{Role: RoleOperator, Text: "[Imagem]"}, turns[3])
	// The final operator turn gets the agent-sent wording.
	assert.Equal(t, Turn{Role: RoleOperator, Text: "[Áudio enviado pelo atendente]"}, turns[4])
}

func TestBuildTranscript_LastOperatorImage(t *testing.T) {
	turns := buildTranscript([]*store.Message{
		{Text: "Oi", IsCustomer: true},
		{Text: "", AttachmentType: store.AttachmentImage},
	})
	require.Len(t, turns, 2)
	assert.Equal(t, "[Imagem enviada]", turns[1].Text)
}

func TestTrigger_PassesTranscriptToGenerator(t *testing.T) {
	chats := newTestChats(t)
	chatID := chats.Chats()[0].ID
	gen := &stubGenerator{reply: "ok"}
	sim := New(chats, gen, nil, time.Millisecond, 2*time.Millisecond, nil)

	_, err := chats.SendOperatorMessage(chatID, "u2", "Temos promoção hoje", nil)
	require.NoError(t, err)
	sim.Trigger(chatID)

	waitForMessages(t, chats, chatID, 3)

	require.Len(t, gen.seen, 2)
	assert.Equal(t, RoleCustomer, gen.seen[0].Role)
	assert.Equal(t, Turn{Role: RoleOperator, Text: "Temos promoção hoje"}, gen.seen[1])
}
