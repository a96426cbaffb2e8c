package store

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
)

// MessageStore is the bounded in-memory message history, keyed by chat.
// Append order within a chat matches delivery order; read operations sort
// by timestamp, since out-of-order delivery is possible.
type MessageStore struct {
	mu         sync.Mutex
	byChat     map[string][]*Message
	total      int
	perChatCap int
	globalCap  int
	flusher    *Flusher
}

// NewMessageStore creates a message store with the given retention caps.
func NewMessageStore(perChatCap, globalCap int) *MessageStore {
	return &MessageStore{
		byChat:     make(map[string][]*Message),
		perChatCap: perChatCap,
		globalCap:  globalCap,
	}
}

// AttachFlusher enables debounced persistence. Attach after Load so that
// replaying persisted history does not trigger a write.
func (s *MessageStore) AttachFlusher(f *Flusher) {
	s.mu.Lock()
	s.flusher = f
	s.mu.Unlock()
}

// Append inserts a message into its chat's list and enforces retention.
// Redelivery of an already-retained (chat, id) pair replaces the stored
// copy instead of duplicating it: a server echo of an optimistic send
// carries the authoritative timestamp. Returns true if any message was
// evicted, in which case the raw cache must be pruned to match.
func (s *MessageStore) Append(m *Message) bool {
	s.mu.Lock()
	replaced := false
	for i, old := range s.byChat[m.ChatJID] {
		if old.MsgID == m.MsgID {
			s.byChat[m.ChatJID][i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		s.byChat[m.ChatJID] = append(s.byChat[m.ChatJID], m)
		s.total++
	}
	evicted := s.enforceLocked(m.ChatJID)
	f := s.flusher
	s.mu.Unlock()

	if f != nil {
		f.Schedule()
	}
	return evicted
}

// enforceLocked applies retention: the mutated chat's per-chat cap first,
// then the global cap across all chats. Oldest by timestamp go first;
// equal timestamps keep their relative order.
func (s *MessageStore) enforceLocked(chatJID string) bool {
	evicted := false

	if list := s.byChat[chatJID]; len(list) > s.perChatCap {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Timestamp < list[j].Timestamp })
		drop := len(list) - s.perChatCap
		s.byChat[chatJID] = append([]*Message(nil), list[drop:]...)
		s.total -= drop
		evicted = true
	}

	if s.total > s.globalCap {
		flat := s.flattenLocked()
		sort.SliceStable(flat, func(i, j int) bool { return flat[i].Timestamp < flat[j].Timestamp })
		keep := flat[len(flat)-s.globalCap:]
		s.byChat = make(map[string][]*Message, len(s.byChat))
		for _, m := range keep {
			s.byChat[m.ChatJID] = append(s.byChat[m.ChatJID], m)
		}
		s.total = len(keep)
		evicted = true
	}

	return evicted
}

// List returns up to limit messages sorted ascending by timestamp: the
// newest entries of the given chat, or of all chats when chatJID is empty.
// The caller clamps limit to a sane range before calling.
func (s *MessageStore) List(chatJID string, limit int) []Message {
	s.mu.Lock()
	var src []*Message
	if chatJID != "" {
		src = append(src, s.byChat[chatJID]...)
	} else {
		src = s.flattenLocked()
	}
	s.mu.Unlock()

	sort.SliceStable(src, func(i, j int) bool { return src[i].Timestamp < src[j].Timestamp })
	if len(src) > limit {
		src = src[len(src)-limit:]
	}
	out := make([]Message, len(src))
	for i, m := range src {
		out[i] = *m
	}
	return out
}

// Flatten returns a copy of the full retained set, chat by chat in
// per-chat insertion order.
func (s *MessageStore) Flatten() []*Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flattenLocked()
}

func (s *MessageStore) flattenLocked() []*Message {
	flat := make([]*Message, 0, s.total)
	for _, list := range s.byChat {
		flat = append(flat, list...)
	}
	return flat
}

// Has reports whether the (chat, id) pair is currently retained.
func (s *MessageStore) Has(chatJID, msgID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.byChat[chatJID] {
		if m.MsgID == msgID {
			return true
		}
	}
	return false
}

// KeySet returns the retained "<chat>:<id>" keys.
func (s *MessageStore) KeySet() map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make(map[string]struct{}, s.total)
	for _, list := range s.byChat {
		for _, m := range list {
			keys[m.Key()] = struct{}{}
		}
	}
	return keys
}

// Len returns the total retained message count.
func (s *MessageStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Load replays a persisted flat array: group by chat in array order, then
// enforce retention once at the end, so a file larger than the current
// caps self-trims. Duplicate (chat, id) pairs are skipped.
func (s *MessageStore) Load(msgs []*Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m == nil || m.ChatJID == "" {
			continue
		}
		if _, dup := seen[m.Key()]; dup {
			continue
		}
		seen[m.Key()] = struct{}{}
		s.byChat[m.ChatJID] = append(s.byChat[m.ChatJID], m)
		s.total++
	}
	for jid := range s.byChat {
		s.enforceLocked(jid)
	}
}

// Snapshot serializes the retained set as a flat JSON array.
func (s *MessageStore) Snapshot() ([]byte, error) {
	flat := s.Flatten()
	sort.SliceStable(flat, func(i, j int) bool {
		if flat[i].ChatJID != flat[j].ChatJID {
			return flat[i].ChatJID < flat[j].ChatJID
		}
		return flat[i].Timestamp < flat[j].Timestamp
	})
	return json.MarshalIndent(flat, "", "  ")
}

// LoadMessages reads a persisted message history document. A missing file
// yields an empty history.
func LoadMessages(path string) ([]*Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var msgs []*Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return msgs, nil
}
