package store

import "strings"

// Chat is a chat directory record. LastMessageTime is Unix seconds,
// 0 when unknown; it never decreases for a given record.
type Chat struct {
	JID             string `json:"jid"`
	Name            string `json:"name"`
	IsGroup         bool   `json:"is_group"`
	LastMessageTime int64  `json:"last_message_time"`
}

// Media describes the downloadable attachment of a message.
type Media struct {
	Kind        string `json:"kind"`
	Mimetype    string `json:"mimetype,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	FileLength  int64  `json:"file_length,omitempty"`
	Seconds     int    `json:"seconds,omitempty"`
	IsVoiceNote bool   `json:"is_voice_note,omitempty"`
}

// Message is a retained message. Immutable after creation; destroyed only
// by retention eviction.
type Message struct {
	MsgID       string `json:"msg_id"`
	ChatJID     string `json:"chat_jid"`
	SenderJID   string `json:"sender_jid"`
	SenderName  string `json:"sender_name"`
	Timestamp   int64  `json:"timestamp"`
	Body        string `json:"body"`
	FromMe      bool   `json:"from_me"`
	IsGroup     bool   `json:"is_group"`
	MessageType string `json:"message_type"`
	Media       *Media `json:"media,omitempty"`
}

// Key returns the composite "<chat>:<id>" key used by the raw cache.
func (m *Message) Key() string {
	return m.ChatJID + ":" + m.MsgID
}

// LocalPart returns the part of a JID before the '@', or the JID itself.
func LocalPart(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}
