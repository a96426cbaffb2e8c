package daemon

import (
	"testing"

	"github.com/mfigueiredo/wamcp/internal/config"
	"github.com/mfigueiredo/wamcp/internal/store"
	"go.uber.org/zap"
)

func TestStoresSurviveRestart(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	p := Params{SessionName: "test"}
	logger := zap.NewNop()

	lk, err := provideLock(p, logger)
	if err != nil {
		t.Fatalf("provideLock() error = %v", err)
	}
	defer func() { _ = lk.Release() }()

	cfg := config.Default()
	dir, msgs, _, pers, err := provideStores(p, cfg, lk, logger)
	if err != nil {
		t.Fatalf("provideStores() error = %v", err)
	}
	if dir.Len() != 0 || msgs.Len() != 0 {
		t.Fatal("fresh session should start empty")
	}

	msgs.Append(&store.Message{
		MsgID:     "m1",
		ChatJID:   "5511999999999@s.whatsapp.net",
		Timestamp: 1700000000,
		Body:      "hello",
	})
	dir.UpsertFromMessage("5511999999999@s.whatsapp.net", false, "Alice")

	// Shutdown path: force the final write.
	pers.chats.Flush()
	pers.messages.Flush()

	dir2, msgs2, raw2, _, err := provideStores(p, cfg, lk, logger)
	if err != nil {
		t.Fatalf("second provideStores() error = %v", err)
	}
	if !msgs2.Has("5511999999999@s.whatsapp.net", "m1") {
		t.Error("message lost across restart")
	}
	if got := dir2.DisplayName("5511999999999@s.whatsapp.net"); got != "Alice" {
		t.Errorf("chat name = %q after restart", got)
	}
	// The raw cache is rebuilt from the persisted history.
	if _, ok := raw2.Get("5511999999999@s.whatsapp.net", "m1"); !ok {
		t.Error("raw cache not rebuilt from persisted messages")
	}
}

func TestPersistMessagesOffSkipsMessageFlusher(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	p := Params{SessionName: "test"}
	logger := zap.NewNop()

	lk, err := provideLock(p, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	cfg := config.Default()
	cfg.Store.PersistMessages = false
	_, _, _, pers, err := provideStores(p, cfg, lk, logger)
	if err != nil {
		t.Fatal(err)
	}
	if pers.messages != nil {
		t.Error("message flusher created despite persist_messages = false")
	}
	if pers.chats == nil {
		t.Error("chat flusher must always exist")
	}
}
