// Package domain defines the persistence models mirrored from the messaging
// provider: instances, agent configurations, contacts, chats, and messages.
// These types are mapped with GORM and form the core data layer of the
// application. The composite unique indexes declared here are the idempotency
// keys used by every upsert in the reconciliation engine.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Instance status values. The status is always the last value explicitly
// observed from the provider; it is never inferred from local intent.
const (
	InstanceCreated      = "CREATED"
	InstanceConnecting   = "CONNECTING"
	InstanceConnected    = "CONNECTED"
	InstanceDisconnected = "DISCONNECTED"
)

// Conversation roles used by the context store and prompt assembly.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Instance represents one logical connection/session to the messaging
// provider.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name: the provider-side instance name (unique).
//   - Status: CREATED | CONNECTING | CONNECTED | DISCONNECTED.
//   - Number: the counterpart number the session is paired with, once known.
//   - WebhookSet / WebhookURL: whether and where the provider pushes events.
//   - ReconnectAttempts: counter incremented each time a reconnect is observed.
//   - ConnectedAt / DisconnectedAt: timestamps of the last observed transitions.
//   - DeletedAt: soft deletion marker (local deletion always succeeds even
//     when the provider-side delete fails).
type Instance struct {
	ID                string         `json:"id"         gorm:"type:char(36);primaryKey"`
	Name              string         `json:"name"       gorm:"type:varchar(128);not null;uniqueIndex"`
	Status            string         `json:"status"     gorm:"type:varchar(16);not null;default:'CREATED';check:status IN ('CREATED','CONNECTING','CONNECTED','DISCONNECTED')"`
	Number            string         `json:"number"     gorm:"type:varchar(32)"`
	WebhookSet        bool           `json:"webhook_set"`
	WebhookURL        string         `json:"webhook_url" gorm:"type:varchar(512)"`
	ReconnectAttempts int            `json:"reconnect_attempts"`
	ConnectedAt       *time.Time     `json:"connected_at,omitempty"`
	DisconnectedAt    *time.Time     `json:"disconnected_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Instance.
func (Instance) TableName() string { return "instances" }

// AgentConfig is the automated-reply policy bound 1:1 to an Instance.
// It is mutated only through the configuration API and read-only to the
// reply pipeline.
type AgentConfig struct {
	ID         string `json:"id"          gorm:"type:char(36);primaryKey"`
	InstanceID string `json:"instance_id" gorm:"type:char(36);not null;uniqueIndex"`
	Active     bool   `json:"active"`

	// Generation parameters.
	Model       string  `json:"model"       gorm:"type:varchar(64);not null;default:'gpt-4o-mini'"`
	MaxTokens   int     `json:"max_tokens"  gorm:"not null;default:512"`
	Temperature float64 `json:"temperature" gorm:"not null;default:0.7"`

	// Flow control per counterpart.
	MaxPerMinute    int `json:"max_per_minute"   gorm:"not null;default:5"`
	MaxConsecutive  int `json:"max_consecutive"  gorm:"not null;default:10"`
	CooldownMinutes int `json:"cooldown_minutes" gorm:"not null;default:15"`

	// Texts delivered without a model call.
	FallbackText string `json:"fallback_text" gorm:"type:text"`
	WaitText     string `json:"wait_text"     gorm:"type:text"`

	// Free-text system prompt; when set (and not the placeholder) it wins
	// over the structured business fields below.
	SystemPrompt string `json:"system_prompt" gorm:"type:text"`

	// Structured business context used to synthesize an instruction when no
	// custom prompt is configured.
	Company  string `json:"company"  gorm:"type:varchar(255)"`
	Product  string `json:"product"  gorm:"type:varchar(255)"`
	Goal     string `json:"goal"     gorm:"type:varchar(255)"`
	Audience string `json:"audience" gorm:"type:varchar(255)"`
	Tone     string `json:"tone"     gorm:"type:varchar(128)"`
	Locale   string `json:"locale"   gorm:"type:varchar(16)"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Instance is the owning provider session. The agent is removed with it.
	Instance Instance `json:"-" gorm:"foreignKey:InstanceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for AgentConfig.
func (AgentConfig) TableName() string { return "agent_configs" }

// Contact is a counterpart identity, keyed by (JID, InstanceID). Contacts are
// created lazily by whichever component first observes the JID and updated by
// later observations; they are deleted only with the owning instance.
type Contact struct {
	ID         string `json:"id"          gorm:"type:char(36);primaryKey"`
	JID        string `json:"jid"         gorm:"column:jid;type:varchar(128);not null;uniqueIndex:ux_contact_jid_instance,priority:1"`
	InstanceID string `json:"instance_id" gorm:"type:char(36);not null;uniqueIndex:ux_contact_jid_instance,priority:2;index"`

	Phone        string     `json:"phone"         gorm:"type:varchar(32)"`
	PushName     string     `json:"push_name"     gorm:"type:varchar(255)"`
	BusinessName string     `json:"business_name" gorm:"type:varchar(255)"`
	IsBusiness   bool       `json:"is_business"`
	IsGroup      bool       `json:"is_group"`
	Online       bool       `json:"online"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Instance Instance `json:"-" gorm:"foreignKey:InstanceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Contact.
func (Contact) TableName() string { return "contacts" }

// Chat is a conversation keyed by (RemoteJID, InstanceID) and owned by
// exactly one Contact. It is created lazily the first time a message or a
// chat-list event references it.
type Chat struct {
	ID         string `json:"id"          gorm:"type:char(36);primaryKey"`
	RemoteJID  string `json:"remote_jid"  gorm:"column:remote_jid;type:varchar(128);not null;uniqueIndex:ux_chat_jid_instance,priority:1"`
	InstanceID string `json:"instance_id" gorm:"type:char(36);not null;uniqueIndex:ux_chat_jid_instance,priority:2;index"`
	ContactID  string `json:"contact_id"  gorm:"type:char(36);not null;index"`

	UnreadCount     int        `json:"unread_count"`
	LastMessageAt   *time.Time `json:"last_message_at,omitempty"`
	LastMessageText string     `json:"last_message_text" gorm:"type:varchar(512)"`
	Archived        bool       `json:"archived"`
	Muted           bool       `json:"muted"`
	Pinned          bool       `json:"pinned"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Contact is the owning counterpart; it must exist before the chat is
	// persisted (auto-created by the reconciliation engine when missing).
	Contact Contact `json:"-" gorm:"foreignKey:ContactID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// Message is one chat turn, keyed by (MessageID, InstanceID) — the provider
// message id plus instance is globally unique and is the idempotency key for
// all message upserts. Revoked messages are soft-deleted with redacted
// content, never physically removed, so quoted-message references stay valid.
type Message struct {
	ID         string `json:"id"          gorm:"type:char(36);primaryKey"`
	MessageID  string `json:"message_id"  gorm:"type:varchar(128);not null;uniqueIndex:ux_msg_id_instance,priority:1"`
	InstanceID string `json:"instance_id" gorm:"type:char(36);not null;uniqueIndex:ux_msg_id_instance,priority:2;index"`
	ChatID     string `json:"chat_id"     gorm:"type:char(36);not null;index:idx_chat_messages,priority:1"`
	RemoteJID  string `json:"remote_jid"  gorm:"column:remote_jid;type:varchar(128);not null"`

	FromMe   bool       `json:"from_me"`
	Type     string     `json:"type"      gorm:"type:varchar(32);not null;default:'text'"`
	Content  string     `json:"content"   gorm:"type:text"`
	Caption  string     `json:"caption"   gorm:"type:text"`
	MediaURL string     `json:"media_url" gorm:"type:varchar(1024)"`
	Status   string     `json:"status"    gorm:"type:varchar(32)"`
	QuotedID string     `json:"quoted_id" gorm:"type:varchar(128)"`
	Deleted  bool       `json:"deleted"`
	SentAt   *time.Time `json:"sent_at,omitempty" gorm:"index:idx_chat_messages,priority:2"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Turn is one entry of the ephemeral per-(agent, counterpart) conversation
// context used to prime the model. Turns live in memory only; losing them
// degrades memory, it is not an error.
type Turn struct {
	Role   string    `json:"role"`
	Text   string    `json:"text"`
	Tokens int       `json:"tokens"`
	At     time.Time `json:"at"`
}
