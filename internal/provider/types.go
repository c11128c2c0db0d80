// Package provider wraps the messaging provider's REST surface behind a thin
// typed client. Wire types in this file mirror the provider's JSON payloads;
// everything the rest of the application consumes goes through these shapes.
package provider

// Presence values accepted by SetPresence.
const (
	PresenceComposing = "composing"
	PresencePaused    = "paused"
)

// ConnectionState is the session state reported by the provider. Known
// values are "open", "connecting", "close" and "closed"; anything else is
// treated as not usable by the reconciliation engine.
type ConnectionState struct {
	Instance string `json:"instance"`
	State    string `json:"state"`
	// Number is the counterpart number the session is paired with, as a bare
	// number or JID. Present once the session has been linked.
	Number string `json:"number,omitempty"`
}

// QRCode is the pairing payload returned while a session is not yet linked.
type QRCode struct {
	Code   string `json:"code"`
	Base64 string `json:"base64,omitempty"`
}

// InstanceInfo is the provider-side descriptor of a created session.
type InstanceInfo struct {
	Name   string `json:"instanceName"`
	ID     string `json:"instanceId,omitempty"`
	Status string `json:"status,omitempty"`
}

// WebhookConfig is the push-event registration stored on the provider.
type WebhookConfig struct {
	URL     string   `json:"url"`
	Enabled bool     `json:"enabled"`
	Events  []string `json:"events,omitempty"`
}

// Settings are the per-instance behavior toggles on the provider.
type Settings struct {
	RejectCall      bool   `json:"rejectCall"`
	MsgCall         string `json:"msgCall,omitempty"`
	GroupsIgnore    bool   `json:"groupsIgnore"`
	AlwaysOnline    bool   `json:"alwaysOnline"`
	ReadMessages    bool   `json:"readMessages"`
	SyncFullHistory bool   `json:"syncFullHistory"`
}

// MessageKey identifies one provider message within a conversation.
type MessageKey struct {
	ID        string `json:"id"`
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
}

// MessageBody is the provider's polymorphic message content. Exactly one of
// the variant fields is populated per message kind.
type MessageBody struct {
	Conversation string        `json:"conversation,omitempty"`
	ExtendedText *ExtendedText `json:"extendedTextMessage,omitempty"`
	Image        *MediaMessage `json:"imageMessage,omitempty"`
	Video        *MediaMessage `json:"videoMessage,omitempty"`
}

// ExtendedText is the provider's rich-text message variant.
type ExtendedText struct {
	Text string `json:"text"`
}

// MediaMessage is the shared shape of image/video variants; only the caption
// is relevant to reply generation.
type MediaMessage struct {
	Caption string `json:"caption,omitempty"`
	URL     string `json:"url,omitempty"`
}

// MessageRecord is one message row as returned by push events and queries.
type MessageRecord struct {
	Key       MessageKey   `json:"key"`
	PushName  string       `json:"pushName,omitempty"`
	Message   *MessageBody `json:"message,omitempty"`
	Type      string       `json:"messageType,omitempty"`
	Status    string       `json:"status,omitempty"`
	Timestamp int64        `json:"messageTimestamp,omitempty"`
	QuotedID  string       `json:"quotedMsgId,omitempty"`
}

// ContactRecord is one contact row from FindContacts or a contacts.upsert
// push event.
type ContactRecord struct {
	JID          string `json:"remoteJid"`
	PushName     string `json:"pushName,omitempty"`
	BusinessName string `json:"businessName,omitempty"`
	IsBusiness   bool   `json:"isBusiness,omitempty"`
	IsGroup      bool   `json:"isGroup,omitempty"`
}

// ChatRecord is one chat row from FindChats or a chats.* push event.
type ChatRecord struct {
	RemoteJID   string `json:"remoteJid"`
	Name        string `json:"name,omitempty"`
	UnreadCount int    `json:"unreadCount,omitempty"`
	Archived    bool   `json:"archived,omitempty"`
	Muted       bool   `json:"muted,omitempty"`
	Pinned      bool   `json:"pinned,omitempty"`
	LastMsgTime int64  `json:"lastMessageTimestamp,omitempty"`
	Preview     string `json:"lastMessageText,omitempty"`
}

// SendReceipt is the acknowledgement returned by SendText.
type SendReceipt struct {
	Key    MessageKey `json:"key"`
	Status string     `json:"status,omitempty"`
}

// Message kinds derived from the populated variant of MessageBody.
const (
	KindText    = "text"
	KindImage   = "image"
	KindVideo   = "video"
	KindUnknown = "unknown"
)

// Kind reports which variant of the message body is populated.
func (m *MessageRecord) Kind() string {
	if m.Message == nil {
		return KindUnknown
	}
	switch {
	case m.Message.Conversation != "" || m.Message.ExtendedText != nil:
		return KindText
	case m.Message.Image != nil:
		return KindImage
	case m.Message.Video != nil:
		return KindVideo
	default:
		return KindUnknown
	}
}

// Text extracts the reply-relevant plain text from the message body: the
// conversation text, the extended text, or a media caption. The second return
// is false when the message carries no usable text.
func (m *MessageRecord) Text() (string, bool) {
	if m.Message == nil {
		return "", false
	}
	switch {
	case m.Message.Conversation != "":
		return m.Message.Conversation, true
	case m.Message.ExtendedText != nil && m.Message.ExtendedText.Text != "":
		return m.Message.ExtendedText.Text, true
	case m.Message.Image != nil && m.Message.Image.Caption != "":
		return m.Message.Image.Caption, true
	case m.Message.Video != nil && m.Message.Video.Caption != "":
		return m.Message.Video.Caption, true
	default:
		return "", false
	}
}

// MediaURL returns the media location for image/video messages, or "".
func (m *MessageRecord) MediaURL() string {
	if m.Message == nil {
		return ""
	}
	switch {
	case m.Message.Image != nil:
		return m.Message.Image.URL
	case m.Message.Video != nil:
		return m.Message.Video.URL
	default:
		return ""
	}
}
