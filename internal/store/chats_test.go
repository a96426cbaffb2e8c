package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeNamer struct {
	mu      sync.Mutex
	calls   int
	subject string
	err     error
	release chan struct{}
}

func (n *fakeNamer) GroupName(_ context.Context, _ string) (string, error) {
	n.mu.Lock()
	n.calls++
	release := n.release
	n.mu.Unlock()
	if release != nil {
		<-release
	}
	return n.subject, n.err
}

func (n *fakeNamer) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestUpsertFromMessageCreatesProvisional(t *testing.T) {
	d := NewChatDirectory(zap.NewNop())
	d.UpsertFromMessage("5511999999999@s.whatsapp.net", false, "")

	if got := d.DisplayName("5511999999999@s.whatsapp.net"); got != "5511999999999" {
		t.Errorf("provisional name = %q, want local part", got)
	}
	if !d.NameIsProvisional("5511999999999@s.whatsapp.net") {
		t.Error("fresh record should be provisional")
	}
}

func TestPushNamePromotionDirectChatOnly(t *testing.T) {
	d := NewChatDirectory(zap.NewNop())

	d.UpsertFromMessage("5511999999999@s.whatsapp.net", false, "Alice")
	if got := d.DisplayName("5511999999999@s.whatsapp.net"); got != "Alice" {
		t.Errorf("direct chat name = %q, want Alice", got)
	}

	// In a group the push name belongs to the sender, not the chat.
	d.UpsertFromMessage("123@g.us", true, "Alice")
	if got := d.DisplayName("123@g.us"); got != "123" {
		t.Errorf("group name = %q, want provisional 123", got)
	}
}

func TestPushNameDoesNotOverwriteRealName(t *testing.T) {
	d := NewChatDirectory(zap.NewNop())
	d.UpsertFromContact("5511999999999@s.whatsapp.net", "Alice Silva")
	d.UpsertFromMessage("5511999999999@s.whatsapp.net", false, "alice99")

	if got := d.DisplayName("5511999999999@s.whatsapp.net"); got != "Alice Silva" {
		t.Errorf("name = %q, push name should not overwrite contact name", got)
	}
}

func TestUpsertFromContactAuthoritative(t *testing.T) {
	d := NewChatDirectory(zap.NewNop())
	d.UpsertFromMessage("5511999999999@s.whatsapp.net", false, "alice99")
	d.UpsertFromContact("5511999999999@s.whatsapp.net", "Alice Silva")

	if got := d.DisplayName("5511999999999@s.whatsapp.net"); got != "Alice Silva" {
		t.Errorf("name = %q, contact name is authoritative", got)
	}
}

func TestUpsertFromContactIgnoresGroups(t *testing.T) {
	d := NewChatDirectory(zap.NewNop())
	d.UpsertFromContact("123@g.us", "Not A Subject")

	if d.Len() != 0 {
		t.Error("group JID should be ignored by contact upserts")
	}
}

func TestDisplayNameUnknownChatFallsBack(t *testing.T) {
	d := NewChatDirectory(zap.NewNop())
	if got := d.DisplayName("5511888888888@s.whatsapp.net"); got != "5511888888888" {
		t.Errorf("fallback = %q, want local part", got)
	}
}

func TestListSortsByRecency(t *testing.T) {
	d := NewChatDirectory(zap.NewNop())
	ts := int64(1000)
	d.now = func() time.Time { ts++; return time.Unix(ts, 0) }

	d.UpsertFromMessage("old@s.whatsapp.net", false, "")
	d.UpsertFromMessage("mid@s.whatsapp.net", false, "")
	d.UpsertFromMessage("new@s.whatsapp.net", false, "")

	got := d.List(10)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].JID != "new@s.whatsapp.net" || got[2].JID != "old@s.whatsapp.net" {
		t.Errorf("order = %s .. %s, want newest first", got[0].JID, got[2].JID)
	}

	limited := d.List(2)
	if len(limited) != 2 || limited[0].JID != "new@s.whatsapp.net" {
		t.Errorf("limited list wrong: %v", limited)
	}
}

func TestEnrichGroupNameAppliesSubject(t *testing.T) {
	d := NewChatDirectory(zap.NewNop())
	d.UpsertFromMessage("123@g.us", true, "")

	namer := &fakeNamer{subject: "Family"}
	d.EnrichGroupName(namer, "123@g.us")

	waitFor(t, "subject", func() bool { return d.DisplayName("123@g.us") == "Family" })
}

func TestEnrichGroupNameSingleFlight(t *testing.T) {
	d := NewChatDirectory(zap.NewNop())
	d.UpsertFromMessage("123@g.us", true, "")

	namer := &fakeNamer{subject: "Family", release: make(chan struct{})}
	d.EnrichGroupName(namer, "123@g.us")
	waitFor(t, "first lookup start", func() bool { return namer.callCount() == 1 })

	// While the first lookup is blocked, further calls must coalesce.
	for i := 0; i < 5; i++ {
		d.EnrichGroupName(namer, "123@g.us")
	}
	close(namer.release)

	waitFor(t, "subject", func() bool { return d.DisplayName("123@g.us") == "Family" })
	if got := namer.callCount(); got != 1 {
		t.Errorf("lookup called %d times, want 1", got)
	}
}

func TestEnrichGroupNameFailureKeepsProvisional(t *testing.T) {
	d := NewChatDirectory(zap.NewNop())
	d.UpsertFromMessage("123@g.us", true, "")

	namer := &fakeNamer{err: fmt.Errorf("not connected")}
	d.EnrichGroupName(namer, "123@g.us")

	waitFor(t, "lookup", func() bool { return namer.callCount() == 1 })
	if got := d.DisplayName("123@g.us"); got != "123" {
		t.Errorf("name = %q, failed lookup should keep provisional", got)
	}
	if !d.NameIsProvisional("123@g.us") {
		t.Error("record should remain provisional after the lookup fails")
	}
}

func TestChatsSnapshotRoundTrip(t *testing.T) {
	d := NewChatDirectory(zap.NewNop())
	d.UpsertFromMessage("5511999999999@s.whatsapp.net", false, "Alice")
	d.UpsertFromMessage("123@g.us", true, "")

	data, err := d.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	path := filepath.Join(t.TempDir(), "chats.json")
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadChats(path)
	if err != nil {
		t.Fatalf("LoadChats() error = %v", err)
	}
	d2 := NewChatDirectory(zap.NewNop())
	d2.Load(loaded)

	if d2.Len() != 2 {
		t.Fatalf("Len = %d, want 2", d2.Len())
	}
	if got := d2.DisplayName("5511999999999@s.whatsapp.net"); got != "Alice" {
		t.Errorf("name lost in round trip: %q", got)
	}
}

func TestLoadDoesNotOverwriteLiveRecords(t *testing.T) {
	d := NewChatDirectory(zap.NewNop())
	d.UpsertFromContact("5511999999999@s.whatsapp.net", "Fresh Name")
	d.Load([]*Chat{{JID: "5511999999999@s.whatsapp.net", Name: "Stale Name"}})

	if got := d.DisplayName("5511999999999@s.whatsapp.net"); got != "Fresh Name" {
		t.Errorf("name = %q, persisted record must not clobber live state", got)
	}
}

func TestLoadChatsMissingFile(t *testing.T) {
	chats, err := LoadChats(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("missing file should not error, got %v", err)
	}
	if chats != nil {
		t.Errorf("got %d chats, want none", len(chats))
	}
}
