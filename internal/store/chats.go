package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const enrichTimeout = 2 * time.Second

// GroupNamer fetches a group's subject from the transport.
type GroupNamer interface {
	GroupName(ctx context.Context, groupJID string) (string, error)
}

// ChatDirectory maps chat JIDs to display metadata. Records are created on
// first sight and never deleted.
type ChatDirectory struct {
	mu       sync.Mutex
	chats    map[string]*Chat
	inflight map[string]struct{}
	flusher  *Flusher
	logger   *zap.Logger
	now      func() time.Time
}

// NewChatDirectory creates an empty chat directory.
func NewChatDirectory(logger *zap.Logger) *ChatDirectory {
	return &ChatDirectory{
		chats:    make(map[string]*Chat),
		inflight: make(map[string]struct{}),
		logger:   logger,
		now:      time.Now,
	}
}

// AttachFlusher enables debounced persistence. Attach after Load.
func (d *ChatDirectory) AttachFlusher(f *Flusher) {
	d.mu.Lock()
	d.flusher = f
	d.mu.Unlock()
}

// UpsertFromMessage records chat activity. Creates the record on first
// sight with the JID's local part as a provisional name, bumps
// last-activity, and promotes the provisional name to the sender's push
// name for direct chats (in a group the push name belongs to the sender,
// not the chat).
func (d *ChatDirectory) UpsertFromMessage(chatJID string, isGroup bool, pushName string) {
	d.mu.Lock()
	c := d.chats[chatJID]
	if c == nil {
		c = &Chat{JID: chatJID, Name: LocalPart(chatJID), IsGroup: isGroup}
		d.chats[chatJID] = c
	}
	c.LastMessageTime = d.now().Unix()
	if !isGroup && pushName != "" && c.Name == LocalPart(chatJID) {
		c.Name = pushName
	}
	f := d.flusher
	d.mu.Unlock()

	if f != nil {
		f.Schedule()
	}
}

// UpsertFromContact applies an authoritative display name for non-group
// identifiers. Group subjects only arrive via EnrichGroupName.
func (d *ChatDirectory) UpsertFromContact(jid, name string) {
	if strings.HasSuffix(jid, "@g.us") || name == "" {
		return
	}
	d.mu.Lock()
	c := d.chats[jid]
	if c == nil {
		c = &Chat{JID: jid, Name: LocalPart(jid)}
		d.chats[jid] = c
	}
	c.Name = name
	f := d.flusher
	d.mu.Unlock()

	if f != nil {
		f.Schedule()
	}
}

// NameIsProvisional reports whether the record still carries the
// placeholder derived from its JID (or does not exist yet).
func (d *ChatDirectory) NameIsProvisional(jid string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.chats[jid]
	return c == nil || c.Name == LocalPart(jid)
}

// EnrichGroupName resolves a group's subject from the transport,
// best-effort and non-blocking. Concurrent calls for the same group
// coalesce into one in-flight lookup, bounded by a short timeout.
func (d *ChatDirectory) EnrichGroupName(namer GroupNamer, groupJID string) {
	d.mu.Lock()
	if _, busy := d.inflight[groupJID]; busy {
		d.mu.Unlock()
		return
	}
	d.inflight[groupJID] = struct{}{}
	d.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
		defer cancel()
		subject, err := namer.GroupName(ctx, groupJID)

		d.mu.Lock()
		delete(d.inflight, groupJID)
		dirty := false
		if err == nil && subject != "" {
			if c := d.chats[groupJID]; c != nil && (c.Name == LocalPart(groupJID) || c.Name != subject) {
				c.Name = subject
				dirty = true
			}
		}
		f := d.flusher
		d.mu.Unlock()

		if err != nil {
			d.logger.Debug("group subject lookup failed", zap.String("group", groupJID), zap.Error(err))
			return
		}
		if dirty && f != nil {
			f.Schedule()
		}
	}()
}

// DisplayName returns the record's name, or the JID's local part when the
// chat has never been observed.
func (d *ChatDirectory) DisplayName(jid string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c := d.chats[jid]; c != nil {
		return c.Name
	}
	return LocalPart(jid)
}

// List returns up to limit chats sorted by last activity, most recent
// first.
func (d *ChatDirectory) List(limit int) []Chat {
	d.mu.Lock()
	out := make([]Chat, 0, len(d.chats))
	for _, c := range d.chats {
		out = append(out, *c)
	}
	d.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].LastMessageTime > out[j].LastMessageTime })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len returns the number of known chats.
func (d *ChatDirectory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.chats)
}

// Load merges persisted records by JID. Entries already constructed
// in-memory during the same load pass win.
func (d *ChatDirectory) Load(chats []*Chat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range chats {
		if c == nil || c.JID == "" {
			continue
		}
		if _, exists := d.chats[c.JID]; exists {
			continue
		}
		cp := *c
		d.chats[c.JID] = &cp
	}
}

// Snapshot serializes the directory as a flat JSON array.
func (d *ChatDirectory) Snapshot() ([]byte, error) {
	d.mu.Lock()
	out := make([]*Chat, 0, len(d.chats))
	for _, c := range d.chats {
		cp := *c
		out = append(out, &cp)
	}
	d.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].JID < out[j].JID })
	return json.MarshalIndent(out, "", "  ")
}

// LoadChats reads a persisted chat directory document. A missing file
// yields an empty directory.
func LoadChats(path string) ([]*Chat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var chats []*Chat
	if err := json.Unmarshal(data, &chats); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return chats, nil
}
