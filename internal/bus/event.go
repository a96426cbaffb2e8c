package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by namespace
// prefix, e.g. "wa." receives every inbound transport event.
const (
	KindMessages      = "wa.messages"
	KindContacts      = "wa.contacts"
	KindSessionStatus = "session.status"
	KindMessageStored = "message.stored"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
