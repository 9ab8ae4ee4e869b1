// ABOUTME: Inbound webhook normalizer: parses provider-shaped payloads into normalized events
// ABOUTME: Routes inbound messages to an existing chat or creates a new one

package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/zapflow/zapflow/internal/conversation"
	"github.com/zapflow/zapflow/internal/metrics"
)

// ErrMalformedPayload is returned when the payload is missing its routing
// field. Nothing is mutated when parsing fails.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// mediaPlaceholder stands in for media messages that carry no caption.
const mediaPlaceholder = "[Mídia Recebida]"

// payload mirrors the provider's inbound notification shape. Every field is
// optional at the JSON level; Parse applies the fallback chain explicitly.
type payload struct {
	Data *struct {
		Key *struct {
			RemoteJid string `json:"remoteJid"`
		} `json:"key"`
		PushName string `json:"pushName"`
		Message *struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage *struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
		} `json:"message"`
	} `json:"data"`
}

// Event is a normalized inbound message: the canonical contact identifier
// (digits only), a display name and the message text.
type Event struct {
	ContactID   string
	DisplayName string
	Text        string
}

// Parse extracts a normalized event from a raw payload. The contact
// identifier is the digit prefix of data.key.remoteJid ("<digits>@<domain>");
// a missing data object, routing field or digit prefix fails the whole parse
// with ErrMalformedPayload.
func Parse(raw []byte) (*Event, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p.Data == nil || p.Data.Key == nil || p.Data.Key.RemoteJid == "" {
		return nil, fmt.Errorf("%w: missing data.key.remoteJid", ErrMalformedPayload)
	}

	contactID, _, _ := strings.Cut(p.Data.Key.RemoteJid, "@")
	if contactID == "" {
		return nil, fmt.Errorf("%w: empty contact identifier", ErrMalformedPayload)
	}

	name := p.Data.PushName
	if name == "" {
		name = contactID
	}

	text := ""
	if m := p.Data.Message; m != nil {
		text = m.Conversation
		if text == "" && m.ExtendedTextMessage != nil {
			text = m.ExtendedTextMessage.Text
		}
	}
	if text == "" {
		text = mediaPlaceholder
	}

	return &Event{ContactID: contactID, DisplayName: name, Text: text}, nil
}

// FormatPhone renders the contact identifier in display form:
// country code, area code, then the number split before its last four
// digits. All digits are preserved; only grouping is added.
func FormatPhone(digits string) string {
	if len(digits) < 4 {
		return "+" + digits
	}
	cc := digits[:2]
	rest := digits[2:]
	if len(rest) <= 2 {
		return fmt.Sprintf("+%s %s", cc, rest)
	}
	area := rest[:2]
	num := rest[2:]
	if len(num) <= 4 {
		return fmt.Sprintf("+%s %s %s", cc, area, num)
	}
	return fmt.Sprintf("+%s %s %s-%s", cc, area, num[:len(num)-4], num[len(num)-4:])
}

// Result reports where a delivery landed.
type Result struct {
	ChatID  string
	Created bool // true when a new chat was created for the contact
}

// Normalizer routes normalized inbound events into the conversation engine.
type Normalizer struct {
	chats  *conversation.Service
	logger *slog.Logger
}

// New creates a normalizer. Pass nil logger for the default.
func New(chats *conversation.Service, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{
		chats:  chats,
		logger: logger.With("component", "webhook"),
	}
}

// Deliver parses the raw payload and routes the message. An existing chat is
// matched when its stored phone number, digit-stripped, contains the contact
// identifier as a substring (first match wins). Otherwise a new chat is
// created at the head of the collection with a single unread customer
// message. A malformed payload fails the whole operation before any store is
// touched.
func (n *Normalizer) Deliver(raw []byte) (*Result, error) {
	event, err := Parse(raw)
	if err != nil {
		metrics.ObserveWebhook("malformed")
		return nil, err
	}

	if chatID, ok := n.chats.FindByPhoneDigits(event.ContactID); ok {
		if _, err := n.chats.ReceiveCustomerMessage(chatID, event.Text); err != nil {
			return nil, err
		}
		metrics.ObserveWebhook("routed")
		n.logger.Info("webhook routed to existing chat", "chat_id", chatID, "contact", event.ContactID)
		return &Result{ChatID: chatID}, nil
	}

	chat, err := n.chats.CreateChat(
		event.DisplayName,
		FormatPhone(event.ContactID),
		avatarURL(event.DisplayName),
		event.Text,
	)
	if err != nil {
		return nil, err
	}
	metrics.ObserveWebhook("created")
	n.logger.Info("webhook created new chat", "chat_id", chat.ID, "contact", event.ContactID)
	return &Result{ChatID: chat.ID, Created: true}, nil
}

func avatarURL(name string) string {
	return "https://ui-avatars.com/api/?name=" + url.QueryEscape(name) + "&background=random"
}
