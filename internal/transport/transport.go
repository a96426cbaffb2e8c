// Package transport defines the boundary with the messaging transport
// library. The connection machine owns Socket lifecycles; every other
// component only ever invokes request/response operations on a socket
// it was handed.
package transport

import (
	"context"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
)

// ConnState is the lifecycle phase carried by a ConnUpdate.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

// CloseReason classifies why a connection closed.
type CloseReason int

const (
	ReasonNone CloseReason = iota
	// ReasonLoggedOut means the session was invalidated server-side.
	// Terminal: relinking is required.
	ReasonLoggedOut
	// ReasonReplaced means another client took over the session stream.
	ReasonReplaced
	// ReasonError covers every other (retryable) close.
	ReasonError
)

// ConnUpdate is a connection-lifecycle event.
type ConnUpdate struct {
	State  ConnState
	Reason CloseReason
	QR     string
	Err    error
}

// Inbound is a raw message envelope plus the delivery metadata the
// transport attaches to it.
type Inbound struct {
	ChatID    string
	MsgID     string
	SenderID  string
	PushName  string
	FromMe    bool
	IsGroup   bool
	Timestamp time.Time
	StubType  int32
	Envelope  *waE2E.Message
}

// Contact is a contact/push-name update.
type Contact struct {
	ID       string
	FullName string
	PushName string
}

// GroupParticipant is a member of a group.
type GroupParticipant struct {
	ID      string `json:"id"`
	IsAdmin bool   `json:"is_admin"`
}

// GroupInfo is the metadata of a group chat.
type GroupInfo struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Topic        string             `json:"topic,omitempty"`
	CreatedAt    int64              `json:"created_at,omitempty"`
	Participants []GroupParticipant `json:"participants,omitempty"`
}

// Events are the handlers a socket delivers into. All handlers may be
// invoked from transport-owned goroutines.
type Events struct {
	OnConnection func(ConnUpdate)
	OnMessages   func([]Inbound)
	OnContacts   func([]Contact)
}

// SendResult reports a completed send.
type SendResult struct {
	ID        string
	Timestamp time.Time
}

// Socket is the imperative surface of an established transport connection.
type Socket interface {
	SendText(ctx context.Context, chatID, text string) (SendResult, error)
	SendMedia(ctx context.Context, chatID, path, caption, mimeType string, asDocument bool) (SendResult, error)
	GroupMetadata(ctx context.Context, groupID string) (*GroupInfo, error)
	JoinedGroups(ctx context.Context) ([]GroupInfo, error)
	Download(ctx context.Context, envelope *waE2E.Message) ([]byte, error)
	AccountID() string
	Logout(ctx context.Context) error
	Disconnect()
}

// Dialer constructs sockets. Each Dial yields a fresh connection attempt;
// credential persistence is handled inside the implementation.
type Dialer interface {
	Dial(ctx context.Context, ev Events) (Socket, error)
}

// DialFunc adapts a function to the Dialer interface.
type DialFunc func(ctx context.Context, ev Events) (Socket, error)

func (f DialFunc) Dial(ctx context.Context, ev Events) (Socket, error) {
	return f(ctx, ev)
}
