package wa

import (
	"fmt"

	"github.com/mfigueiredo/wamcp/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Classify derives the canonical (text, type) pair for a raw message
// envelope. First match wins; ephemeral wrappers are unwrapped and the
// inner payload re-classified.
func Classify(stubType int32, msg *waE2E.Message) (string, string) {
	if stubType != 0 {
		return fmt.Sprintf("[stub:%d]", stubType), "stub"
	}
	if msg == nil {
		return "[no-content]", "unknown"
	}
	if inner := msg.GetEphemeralMessage().GetMessage(); inner != nil {
		return Classify(0, inner)
	}

	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation(), "text"
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText(), "text"
	case msg.GetImageMessage() != nil:
		if c := msg.GetImageMessage().GetCaption(); c != "" {
			return c, "image"
		}
		return "[image]", "image"
	case msg.GetVideoMessage() != nil:
		if c := msg.GetVideoMessage().GetCaption(); c != "" {
			return c, "video"
		}
		return "[video]", "video"
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		if c := doc.GetCaption(); c != "" {
			return c, "document"
		}
		if n := doc.GetFileName(); n != "" {
			return n, "document"
		}
		return "[document]", "document"
	case msg.GetAudioMessage() != nil:
		if msg.GetAudioMessage().GetPTT() {
			return "[voice-note]", "audio"
		}
		return "[audio]", "audio"
	case msg.GetStickerMessage() != nil:
		return "[sticker]", "sticker"
	case msg.GetButtonsResponseMessage() != nil:
		btn := msg.GetButtonsResponseMessage()
		if t := btn.GetSelectedDisplayText(); t != "" {
			return t, "buttons_response"
		}
		return btn.GetSelectedButtonID(), "buttons_response"
	case msg.GetListResponseMessage() != nil:
		lst := msg.GetListResponseMessage()
		if t := lst.GetTitle(); t != "" {
			return t, "list_response"
		}
		return lst.GetSingleSelectReply().GetSelectedRowID(), "list_response"
	default:
		return unrecognizedVariant(msg)
	}
}

// unrecognizedVariant tags an envelope whose populated variant we do not
// handle. The raw field name is carried through so callers can see what
// arrived.
func unrecognizedVariant(msg *waE2E.Message) (string, string) {
	var tag string
	msg.ProtoReflect().Range(func(fd protoreflect.FieldDescriptor, _ protoreflect.Value) bool {
		tag = fd.JSONName()
		return false
	})
	if tag == "" {
		return "[no-content]", "unknown"
	}
	return "[" + tag + "]", tag
}

// ExtractMedia derives the media descriptor for an envelope, or nil for
// variants that carry no downloadable payload.
func ExtractMedia(msg *waE2E.Message) *store.Media {
	if msg == nil {
		return nil
	}
	if inner := msg.GetEphemeralMessage().GetMessage(); inner != nil {
		return ExtractMedia(inner)
	}

	switch {
	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		return &store.Media{Kind: "image", Mimetype: img.GetMimetype(), FileLength: byteCount(img.GetFileLength())}
	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		return &store.Media{
			Kind:       "video",
			Mimetype:   vid.GetMimetype(),
			FileLength: byteCount(vid.GetFileLength()),
			Seconds:    int(vid.GetSeconds()),
		}
	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		return &store.Media{
			Kind:       "document",
			Mimetype:   doc.GetMimetype(),
			FileName:   doc.GetFileName(),
			FileLength: byteCount(doc.GetFileLength()),
		}
	case msg.GetAudioMessage() != nil:
		aud := msg.GetAudioMessage()
		return &store.Media{
			Kind:        "audio",
			Mimetype:    aud.GetMimetype(),
			FileLength:  byteCount(aud.GetFileLength()),
			Seconds:     int(aud.GetSeconds()),
			IsVoiceNote: aud.GetPTT(),
		}
	case msg.GetStickerMessage() != nil:
		stk := msg.GetStickerMessage()
		return &store.Media{Kind: "sticker", Mimetype: stk.GetMimetype(), FileLength: byteCount(stk.GetFileLength())}
	default:
		return nil
	}
}
