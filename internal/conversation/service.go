// ABOUTME: The conversation engine: single source of truth for chats and their message logs
// ABOUTME: All chat mutations flow through here and snapshot to the blob store

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zapflow/zapflow/internal/metrics"
	"github.com/zapflow/zapflow/internal/store"
)

// Engine errors. ErrChatResolved is the invalid-transition case: operators
// must reopen a resolved chat before appending to it.
var (
	ErrChatNotFound  = errors.New("chat not found")
	ErrChatResolved  = errors.New("chat is resolved, reopen it to send messages")
	ErrEmptyMessage  = errors.New("message needs text or an attachment")
	ErrInvalidStatus = errors.New("invalid chat status")
)

// Attachment describes an optional media attachment on an operator send.
type Attachment struct {
	URL  string
	Type string // store.AttachmentImage, AttachmentFile or AttachmentAudio
}

// CRMFields carries a partial update of a chat's business metadata.
// Nil fields are left untouched (patch semantics, never full replace).
type CRMFields struct {
	CustomerName      *string
	CustomerPhone     *string
	CustomerEmail     *string
	CustomerCompany   *string
	CustomerWebsite   *string
	CustomerInstagram *string
	CustomerValue     *float64
}

// Service owns the chat collection. Operations are synchronous, guarded by a
// single mutex, and every successful mutation writes a fresh full snapshot of
// the collection to the blob store (best effort, ordered).
type Service struct {
	mu      sync.Mutex
	chats   []*store.Chat
	focused string // currently focused chat id, "" when none

	blobs  store.Blobs
	bcast  *Broadcaster
	logger *slog.Logger
	now    func() time.Time
}

// NewService restores the chat collection from the blob store, falling back
// to seed data when absent or corrupt. Pass nil broadcaster to disable event
// fan-out and nil logger for the default.
func NewService(ctx context.Context, blobs store.Blobs, bcast *Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "conversation")

	return &Service{
		chats:  store.LoadCollection(ctx, blobs, store.KeyChats, store.SeedChats(), logger),
		blobs:  blobs,
		bcast:  bcast,
		logger: logger,
		now:    time.Now,
	}
}

// SendOperatorMessage appends an operator-authored message to an active chat.
// Resolved chats reject the send with ErrChatResolved and nothing is mutated.
// The unread counter is not affected: operators read their own messages.
func (s *Service) SendOperatorMessage(chatID, senderID, text string, att *Attachment) (*store.Message, error) {
	if text == "" && (att == nil || att.URL == "") {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chat := s.findLocked(chatID)
	if chat == nil {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	if chat.Status == store.ChatResolved {
		return nil, ErrChatResolved
	}

	msg := &store.Message{
		ID:        uuid.New().String(),
		Text:      text,
		SenderID:  senderID,
		Timestamp: s.nextTimestampLocked(chat),
		Status:    store.MessageSent,
	}
	if att != nil && att.URL != "" {
		msg.AttachmentURL = att.URL
		msg.AttachmentType = att.Type
		if msg.AttachmentType == "" {
			msg.AttachmentType = store.AttachmentImage
		}
	}

	chat.Messages = append(chat.Messages, msg)
	chat.LastMessageTimestamp = msg.Timestamp
	s.persistLocked()

	metrics.ObserveMessageSent()
	s.publish(&Event{Type: EventMessage, ChatID: chat.ID, Message: msg})
	s.logger.Debug("operator message sent", "chat_id", chat.ID, "message_id", msg.ID, "sender", senderID)
	return msg, nil
}

// ReceiveCustomerMessage appends a customer-authored message. The unread
// counter increments by one unless the chat is currently focused, in which
// case the message counts as read-while-viewing and unread stays zero.
func (s *Service) ReceiveCustomerMessage(chatID, text string) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat := s.findLocked(chatID)
	if chat == nil {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}

	msg := &store.Message{
		ID:         uuid.New().String(),
		Text:       text,
		SenderID:   store.SenderCustomer,
		Timestamp:  s.nextTimestampLocked(chat),
		Status:     store.MessageRead,
		IsCustomer: true,
	}

	chat.Messages = append(chat.Messages, msg)
	chat.LastMessageTimestamp = msg.Timestamp
	if chat.ID == s.focused {
		chat.UnreadCount = 0
	} else {
		chat.UnreadCount++
	}
	s.persistLocked()

	metrics.ObserveMessageReceived()
	s.publish(&Event{Type: EventMessage, ChatID: chat.ID, Message: msg})
	s.logger.Debug("customer message received", "chat_id", chat.ID, "message_id", msg.ID, "unread", chat.UnreadCount)
	return msg, nil
}

// SelectChat marks the chat as focused and resets its unread counter
// atomically with the focus change. Idempotent.
func (s *Service) SelectChat(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat := s.findLocked(chatID)
	if chat == nil {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}

	s.focused = chat.ID
	chat.UnreadCount = 0
	s.persistLocked()
	return nil
}

// SetStatus toggles a chat between active and resolved. Resolving a focused
// chat does not unfocus it; it only blocks further operator sends.
func (s *Service) SetStatus(chatID, status string) error {
	if status != store.ChatActive && status != store.ChatResolved {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	chat := s.findLocked(chatID)
	if chat == nil {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}

	chat.Status = status
	s.persistLocked()

	s.publish(&Event{Type: EventStatusChanged, ChatID: chat.ID, Status: status})
	s.logger.Info("chat status changed", "chat_id", chat.ID, "status", status)
	return nil
}

// UpdateCRMFields merges the supplied fields into the chat. Unset fields keep
// their prior values.
func (s *Service) UpdateCRMFields(chatID string, fields CRMFields) (*store.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat := s.findLocked(chatID)
	if chat == nil {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}

	if fields.CustomerName != nil {
		chat.CustomerName = *fields.CustomerName
	}
	if fields.CustomerPhone != nil {
		chat.CustomerPhone = *fields.CustomerPhone
	}
	if fields.CustomerEmail != nil {
		chat.CustomerEmail = *fields.CustomerEmail
	}
	if fields.CustomerCompany != nil {
		chat.CustomerCompany = *fields.CustomerCompany
	}
	if fields.CustomerWebsite != nil {
		chat.CustomerWebsite = *fields.CustomerWebsite
	}
	if fields.CustomerInstagram != nil {
		chat.CustomerInstagram = *fields.CustomerInstagram
	}
	if fields.CustomerValue != nil {
		chat.CustomerValue = *fields.CustomerValue
	}
	s.persistLocked()

	return chat.Clone(), nil
}

// CreateChat inserts a new active chat at the head of the collection
// (most-recent-first) seeded with a single unread customer message.
func (s *Service) CreateChat(customerName, customerPhone, avatarURL, firstText string) (*store.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UnixMilli()
	chat := &store.Chat{
		ID:                   uuid.New().String(),
		CustomerName:         customerName,
		CustomerPhone:        customerPhone,
		AvatarURL:            avatarURL,
		UnreadCount:          1,
		LastMessageTimestamp: ts,
		Status:               store.ChatActive,
		Messages: []*store.Message{
			{
				ID:         uuid.New().String(),
				Text:       firstText,
				SenderID:   store.SenderCustomer,
				Timestamp:  ts,
				Status:     store.MessageRead,
				IsCustomer: true,
			},
		},
	}

	s.chats = append([]*store.Chat{chat}, s.chats...)
	s.persistLocked()

	metrics.ObserveChatCreated()
	s.publish(&Event{Type: EventChatCreated, ChatID: chat.ID, Chat: chat.Clone()})
	s.logger.Info("chat created", "chat_id", chat.ID, "customer", customerName)
	return chat.Clone(), nil
}

// FindByPhoneDigits returns the first chat whose stored phone number,
// stripped of non-digit characters, contains digits as a substring. Ties are
// broken by collection order. Substring containment is deliberate: it is how
// inbound webhook routing has always matched, quirks included.
func (s *Service) FindByPhoneDigits(digits string) (string, bool) {
	if digits == "" {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chat := range s.chats {
		if strings.Contains(stripNonDigits(chat.CustomerPhone), digits) {
			return chat.ID, true
		}
	}
	return "", false
}

// Chat returns a copy of the chat with the given id.
func (s *Service) Chat(chatID string) (*store.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat := s.findLocked(chatID)
	if chat == nil {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	return chat.Clone(), nil
}

// Chats returns a copy of the full chat collection in store order
// (most recently created first).
func (s *Service) Chats() []*store.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*store.Chat, len(s.chats))
	for i, chat := range s.chats {
		out[i] = chat.Clone()
	}
	return out
}

// FocusedChatID returns the id of the currently focused chat, or "".
func (s *Service) FocusedChatID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focused
}

func (s *Service) findLocked(chatID string) *store.Chat {
	for _, chat := range s.chats {
		if chat.ID == chatID {
			return chat
		}
	}
	return nil
}

// nextTimestampLocked returns the current time in Unix milliseconds, clamped
// so message timestamps never decrease within a chat.
func (s *Service) nextTimestampLocked(chat *store.Chat) int64 {
	ts := s.now().UnixMilli()
	if n := len(chat.Messages); n > 0 && ts < chat.Messages[n-1].Timestamp {
		ts = chat.Messages[n-1].Timestamp
	}
	return ts
}

func (s *Service) persistLocked() {
	store.SaveCollection(s.blobs, store.KeyChats, s.chats, s.logger)
}

func (s *Service) publish(event *Event) {
	if s.bcast != nil {
		s.bcast.Publish(event)
	}
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
