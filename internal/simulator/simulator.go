// ABOUTME: Reply simulator: appends a delayed simulated customer reply after operator sends
// ABOUTME: Fire-and-forget per trigger, bound to the chat id captured at trigger time

package simulator

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/zapflow/zapflow/internal/conversation"
	"github.com/zapflow/zapflow/internal/metrics"
	"github.com/zapflow/zapflow/internal/store"
)

// Transcript roles.
const (
	RoleOperator = "operator"
	RoleCustomer = "customer"
)

// Turn is one entry of the conversation transcript handed to the generator.
type Turn struct {
	Role string
	Text string
}

// Generator produces reply text for a transcript. ErrUnavailable means the
// collaborator is not configured at all, as opposed to a transient failure.
type Generator interface {
	Generate(ctx context.Context, transcript []Turn, customerName string) (string, error)
}

// ErrUnavailable is returned by generators that have no backend configured.
var ErrUnavailable = errors.New("generator unavailable")

// Fallback replies. Generation failures degrade to fixed text instead of
// dropping the reply.
const (
	unavailableReply = "O assistente virtual está temporariamente indisponível (API Key não configurada)."
	errorReply       = "Desculpe, não entendi."
	emptyReply       = "..."
)

// Placeholder texts for attachment-only turns in the transcript.
const (
	audioTurn     = "[Áudio]"
	imageTurn     = "[Imagem]"
	sentAudioTurn = "[Áudio enviado pelo atendente]"
	sentImageTurn = "[Imagem enviada]"
)

// generateTimeout bounds a single generation call.
const generateTimeout = 30 * time.Second

// Simulator schedules one simulated customer reply per operator send. The
// reply is generated from the chat transcript, delayed by a bounded random
// interval, then appended with customer-message semantics. The pending reply
// is bound to the chat id captured at trigger time; switching focus neither
// cancels it nor redirects it.
type Simulator struct {
	chats  *conversation.Service
	gen    Generator
	bcast  *conversation.Broadcaster
	logger *slog.Logger

	minDelay time.Duration
	maxDelay time.Duration

	mu        sync.Mutex
	composing map[string]int // chat id -> pending reply count
}

// New creates a simulator. A nil generator behaves like an unconfigured one:
// replies still arrive, carrying the fixed unavailable text. Pass nil
// broadcaster to skip composing events and nil logger for the default.
func New(chats *conversation.Service, gen Generator, bcast *conversation.Broadcaster, minDelay, maxDelay time.Duration, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	if minDelay <= 0 {
		minDelay = 2 * time.Second
	}
	if maxDelay < minDelay {
		maxDelay = minDelay + 2*time.Second
	}
	return &Simulator{
		chats:     chats,
		gen:       gen,
		bcast:     bcast,
		logger:    logger.With("component", "simulator"),
		minDelay:  minDelay,
		maxDelay:  maxDelay,
		composing: make(map[string]int),
	}
}

// Trigger schedules a simulated reply for the chat. Call it once after each
// successful operator send (text, image or audio). It returns immediately;
// the reply is appended later from a background goroutine.
func (s *Simulator) Trigger(chatID string) {
	chat, err := s.chats.Chat(chatID)
	if err != nil {
		s.logger.Warn("trigger for unknown chat", "chat_id", chatID, "error", err)
		return
	}

	transcript := buildTranscript(chat.Messages)
	customerName := chat.CustomerName

	s.setComposing(chatID, true)
	go s.run(chatID, customerName, transcript)
}

// Composing reports whether a simulated reply is pending for the chat. The
// UI shows its "typing" indicator from this, keyed by chat id so it never
// renders for the wrong chat.
func (s *Simulator) Composing(chatID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composing[chatID] > 0
}

func (s *Simulator) run(chatID, customerName string, transcript []Turn) {
	defer s.setComposing(chatID, false)

	reply := s.generate(customerName, transcript)

	// Randomized wait simulating human/network latency. Bounded: never
	// instantaneous, never unbounded.
	delay := s.minDelay
	if s.maxDelay > s.minDelay {
		delay += time.Duration(rand.Int63n(int64(s.maxDelay - s.minDelay)))
	}
	time.Sleep(delay)

	// The chat may no longer exist in extended models; re-validate by
	// letting the append fail rather than crash.
	if _, err := s.chats.ReceiveCustomerMessage(chatID, reply); err != nil {
		metrics.ObserveSimulatedReply("dropped")
		s.logger.Warn("simulated reply dropped", "chat_id", chatID, "error", err)
		return
	}
	s.logger.Debug("simulated reply appended", "chat_id", chatID)
}

func (s *Simulator) generate(customerName string, transcript []Turn) string {
	if s.gen == nil {
		metrics.ObserveSimulatedReply("fallback")
		return unavailableReply
	}

	ctx, cancel := context.WithTimeout(context.Background(), generateTimeout)
	defer cancel()

	reply, err := s.gen.Generate(ctx, transcript, customerName)
	switch {
	case errors.Is(err, ErrUnavailable):
		metrics.ObserveSimulatedReply("fallback")
		return unavailableReply
	case err != nil:
		metrics.ObserveSimulatedReply("fallback")
		s.logger.Warn("reply generation failed", "error", err)
		return errorReply
	case reply == "":
		metrics.ObserveSimulatedReply("generated")
		return emptyReply
	default:
		metrics.ObserveSimulatedReply("generated")
		return reply
	}
}

func (s *Simulator) setComposing(chatID string, on bool) {
	s.mu.Lock()
	if on {
		s.composing[chatID]++
	} else {
		s.composing[chatID]--
		if s.composing[chatID] <= 0 {
			delete(s.composing, chatID)
		}
	}
	active := s.composing[chatID] > 0
	s.mu.Unlock()

	if s.bcast != nil {
		s.bcast.Publish(&conversation.Event{
			Type:      conversation.EventComposing,
			ChatID:    chatID,
			Composing: active,
		})
	}
}

// buildTranscript converts a chat's message log into ordered operator and
// customer turns. Attachment-only messages render as placeholders; the final
// operator turn uses the "sent by the agent" wording the generator prompt
// expects.
func buildTranscript(messages []*store.Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for i, m := range messages {
		role := RoleOperator
		if m.IsCustomer {
			role = RoleCustomer
		}

		text := m.Text
		if text == "" {
			last := i == len(messages)-1 && !m.IsCustomer
			switch m.AttachmentType {
			case store.AttachmentAudio:
				text = audioTurn
				if last {
					text = sentAudioTurn
				}
			case store.AttachmentImage:
				text = imageTurn
				if last {
					text = sentImageTurn
				}
			}
		}

		turns = append(turns, Turn{Role: role, Text: text})
	}
	return turns
}
