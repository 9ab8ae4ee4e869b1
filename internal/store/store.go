// ABOUTME: Data model types and the blob persistence surface for zapflow
// ABOUTME: Defines User, Company, Chat, Message, ScheduledMessage and the Blobs interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested blob does not exist
var ErrNotFound = errors.New("not found")

// Collection keys. One keyed blob per collection, mirroring the
// browser-local storage layout the console was built around.
const (
	KeyUsers             = "zapflow_users"
	KeyCompanies         = "zapflow_companies"
	KeyChats             = "zapflow_chats"
	KeyScheduledMessages = "zapflow_scheduled_messages"
)

// User roles
const (
	RoleSuperAdmin   = "SUPER_ADMIN"
	RoleCompanyAdmin = "COMPANY_ADMIN"
	RoleAgent        = "AGENT"
)

// Chat lifecycle states
const (
	ChatActive   = "active"
	ChatResolved = "resolved"
)

// Message delivery states
const (
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageRead      = "read"
)

// Attachment types
const (
	AttachmentImage = "image"
	AttachmentFile  = "file"
	AttachmentAudio = "audio"
)

// SenderCustomer is the senderId used for customer-authored messages.
// Operator messages carry the acting user's id instead.
const SenderCustomer = "customer"

// ScheduledMessage states. The engine never transitions pending to sent;
// the record lifecycle is create and explicit delete only.
const (
	SchedulePending = "pending"
	ScheduleSent    = "sent"
)

// User is an operator identity (super admin, company admin or agent).
// Owned by the identity layer; the conversation engine only back-references
// user ids via Message.SenderID.
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password,omitempty"` // bcrypt hash
	Role       string `json:"role"`
	CompanyID  string `json:"companyId,omitempty"`
	AvatarURL  string `json:"avatarUrl,omitempty"`
	Phone      string `json:"phone,omitempty"`
	BirthDate  string `json:"birthDate,omitempty"`
	Age        int    `json:"age,omitempty"`
	Profession string `json:"profession,omitempty"`
}

// MetaConfig holds a company's messaging integration credentials.
// The values are opaque to the engine.
type MetaConfig struct {
	PhoneNumberID      string `json:"phoneNumberId"`
	WabaID             string `json:"wabaId"`
	AccessToken        string `json:"accessToken"`
	WebhookVerifyToken string `json:"webhookVerifyToken"`
}

// Company is a tenant. MaxUsers is fixed at creation time and enforced as a
// soft check when users are added.
type Company struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	MaxUsers   int         `json:"maxUsers"`
	CreatedAt  time.Time   `json:"createdAt"`
	MetaConfig *MetaConfig `json:"metaConfig,omitempty"`
}

// Message is a single entry in a chat's log. Immutable once created.
// Timestamp is Unix milliseconds and non-decreasing within a chat.
type Message struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	SenderID       string `json:"senderId"`
	Timestamp      int64  `json:"timestamp"`
	Status         string `json:"status"`
	IsCustomer     bool   `json:"isCustomer"`
	AttachmentURL  string `json:"attachmentUrl,omitempty"`
	AttachmentType string `json:"attachmentType,omitempty"`
}

// Chat is a conversation thread with one external contact. The message log
// is append-only and chronological; chats are never deleted.
type Chat struct {
	ID                   string     `json:"id"`
	CustomerName         string     `json:"customerName"`
	CustomerPhone        string     `json:"customerPhone"`
	AvatarURL            string     `json:"avatarUrl"`
	Messages             []*Message `json:"messages"`
	UnreadCount          int        `json:"unreadCount"`
	LastMessageTimestamp int64      `json:"lastMessageTimestamp"`
	Status               string     `json:"status"`

	// CRM fields
	CustomerEmail     string  `json:"customerEmail,omitempty"`
	CustomerCompany   string  `json:"customerCompany,omitempty"`
	CustomerWebsite   string  `json:"customerWebsite,omitempty"`
	CustomerInstagram string  `json:"customerInstagram,omitempty"`
	CustomerValue     float64 `json:"customerValue,omitempty"`
}

// Clone returns a deep copy of the chat. Services hand copies to callers so
// engine state is only ever mutated through engine operations.
func (c *Chat) Clone() *Chat {
	cp := *c
	cp.Messages = make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		mc := *m
		cp.Messages[i] = &mc
	}
	return &cp
}

// ScheduledMessage is an operator-created future send. Shares contact
// identity with chats by name/phone only; there is no hard reference.
type ScheduledMessage struct {
	ID            string    `json:"id"`
	CustomerName  string    `json:"customerName"`
	CustomerPhone string    `json:"customerPhone"`
	Text          string    `json:"text"`
	ScheduledDate time.Time `json:"scheduledDate"`
	Status        string    `json:"status"`
	CreatedBy     string    `json:"createdBy"`
}

// Blobs is the durable key-value surface collections are snapshotted to.
// Implementations must treat values as opaque bytes.
type Blobs interface {
	// Put stores data under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}
