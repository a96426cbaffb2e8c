package store

import (
	"fmt"
	"testing"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/proto"
)

func textEnvelope(body string) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(body)}
}

func TestRawPutGet(t *testing.T) {
	c := NewRawCache()
	env := textEnvelope("hi")
	c.Put("a@s.whatsapp.net", "m1", env)

	got, ok := c.Get("a@s.whatsapp.net", "m1")
	if !ok {
		t.Fatal("envelope not found")
	}
	if got.GetConversation() != "hi" {
		t.Errorf("conversation = %q", got.GetConversation())
	}

	if _, ok := c.Get("a@s.whatsapp.net", "absent"); ok {
		t.Error("Get should miss on unknown id")
	}
}

func TestRawPutNilIsNoOp(t *testing.T) {
	c := NewRawCache()
	c.Put("a@s.whatsapp.net", "m1", nil)
	if c.Len() != 0 {
		t.Error("nil envelope should not be stored")
	}
}

func TestPruneToMatchKeepsSubsetInvariant(t *testing.T) {
	s := NewMessageStore(3, 2000)
	c := NewRawCache()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("m%d", i)
		s.Append(msg("a@s.whatsapp.net", id, int64(i)))
		c.Put("a@s.whatsapp.net", id, textEnvelope(id))
	}

	// The store trimmed itself to m2..m4; the cache still holds all five
	// until pruned.
	if c.Len() != 5 {
		t.Fatalf("pre-prune Len = %d, want 5", c.Len())
	}
	c.PruneToMatch(s)

	if c.Len() != 3 {
		t.Fatalf("post-prune Len = %d, want 3", c.Len())
	}
	for _, id := range []string{"m0", "m1"} {
		if _, ok := c.Get("a@s.whatsapp.net", id); ok {
			t.Errorf("%s should have been pruned", id)
		}
	}
	for _, id := range []string{"m2", "m3", "m4"} {
		if _, ok := c.Get("a@s.whatsapp.net", id); !ok {
			t.Errorf("%s should have been retained", id)
		}
	}
}

func TestRebuildSyntheticEnvelopes(t *testing.T) {
	tests := []struct {
		name  string
		media *Media
		check func(t *testing.T, env *waE2E.Message)
	}{
		{
			name:  "text",
			media: nil,
			check: func(t *testing.T, env *waE2E.Message) {
				if env.GetConversation() != "body m1" {
					t.Errorf("conversation = %q", env.GetConversation())
				}
			},
		},
		{
			name:  "image",
			media: &Media{Kind: "image", Mimetype: "image/jpeg", FileLength: 1234},
			check: func(t *testing.T, env *waE2E.Message) {
				img := env.GetImageMessage()
				if img == nil {
					t.Fatal("no image message")
				}
				if img.GetMimetype() != "image/jpeg" || img.GetFileLength() != 1234 {
					t.Errorf("image: %v %d", img.GetMimetype(), img.GetFileLength())
				}
			},
		},
		{
			name:  "voice note",
			media: &Media{Kind: "audio", Mimetype: "audio/ogg", Seconds: 12, IsVoiceNote: true},
			check: func(t *testing.T, env *waE2E.Message) {
				aud := env.GetAudioMessage()
				if aud == nil {
					t.Fatal("no audio message")
				}
				if !aud.GetPTT() || aud.GetSeconds() != 12 {
					t.Errorf("audio: ptt=%v seconds=%d", aud.GetPTT(), aud.GetSeconds())
				}
			},
		},
		{
			name:  "document",
			media: &Media{Kind: "document", Mimetype: "application/pdf", FileName: "report.pdf"},
			check: func(t *testing.T, env *waE2E.Message) {
				doc := env.GetDocumentMessage()
				if doc == nil {
					t.Fatal("no document message")
				}
				if doc.GetFileName() != "report.pdf" {
					t.Errorf("file name = %q", doc.GetFileName())
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := msg("a@s.whatsapp.net", "m1", 100)
			m.Media = tt.media

			c := NewRawCache()
			c.Rebuild([]*Message{m})

			env, ok := c.Get("a@s.whatsapp.net", "m1")
			if !ok {
				t.Fatal("rebuilt envelope missing")
			}
			tt.check(t, env)
		})
	}
}
