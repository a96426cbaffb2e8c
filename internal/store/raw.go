package store

import (
	"sync"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

// RawCache keeps the original undecoded message envelopes so media can be
// re-downloaded later. Its key set is always a subset of the message
// store's retained set: whenever messages are evicted, PruneToMatch must
// run.
type RawCache struct {
	mu      sync.RWMutex
	entries map[string]*waE2E.Message
}

// NewRawCache creates an empty raw payload cache.
func NewRawCache() *RawCache {
	return &RawCache{entries: make(map[string]*waE2E.Message)}
}

// Put stores the envelope under "<chat>:<id>".
func (c *RawCache) Put(chatJID, msgID string, envelope *waE2E.Message) {
	if envelope == nil {
		return
	}
	c.mu.Lock()
	c.entries[chatJID+":"+msgID] = envelope
	c.mu.Unlock()
}

// Get returns the envelope for the given message, or false when it was
// never observed or has been evicted.
func (c *RawCache) Get(chatJID, msgID string) (*waE2E.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	env, ok := c.entries[chatJID+":"+msgID]
	return env, ok
}

// Len returns the number of cached envelopes.
func (c *RawCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// PruneToMatch drops every cached key no longer present in the message
// store's retained set. Called after each eviction pass so the two
// structures' lifetimes stay coupled.
func (c *RawCache) PruneToMatch(s *MessageStore) {
	retained := s.KeySet()
	c.mu.Lock()
	for key := range c.entries {
		if _, ok := retained[key]; !ok {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// Rebuild reconstructs best-effort synthetic envelopes from persisted
// messages. The synthetic form lacks transport-specific fields (media
// keys, ciphertext hashes), so a later media download may fail with a
// reported error instead of succeeding. Text-level state still survives
// a restart.
func (c *RawCache) Rebuild(msgs []*Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		if m == nil {
			continue
		}
		c.entries[m.Key()] = syntheticEnvelope(m)
	}
}

func syntheticEnvelope(m *Message) *waE2E.Message {
	env := &waE2E.Message{}
	if m.Media == nil {
		env.Conversation = proto.String(m.Body)
		return env
	}
	mime := m.Media.Mimetype
	length := uint64(m.Media.FileLength)
	switch m.Media.Kind {
	case "image":
		env.ImageMessage = &waE2E.ImageMessage{Mimetype: proto.String(mime), FileLength: proto.Uint64(length)}
	case "video":
		env.VideoMessage = &waE2E.VideoMessage{Mimetype: proto.String(mime), FileLength: proto.Uint64(length)}
	case "audio":
		env.AudioMessage = &waE2E.AudioMessage{
			Mimetype:   proto.String(mime),
			Seconds:    proto.Uint32(uint32(m.Media.Seconds)),
			PTT:        proto.Bool(m.Media.IsVoiceNote),
			FileLength: proto.Uint64(length),
		}
	case "document":
		env.DocumentMessage = &waE2E.DocumentMessage{
			Mimetype:   proto.String(mime),
			FileName:   proto.String(m.Media.FileName),
			FileLength: proto.Uint64(length),
		}
	case "sticker":
		env.StickerMessage = &waE2E.StickerMessage{Mimetype: proto.String(mime), FileLength: proto.Uint64(length)}
	default:
		env.Conversation = proto.String(m.Body)
	}
	return env
}
