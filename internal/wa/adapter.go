package wa

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/mfigueiredo/wamcp/internal/session"
	"github.com/mfigueiredo/wamcp/internal/transport"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Dialer constructs whatsmeow-backed sockets for a session. Each Dial is a
// fresh connection attempt against the session's credential store;
// credential changes are persisted by whatsmeow's own container as they
// arrive.
type Dialer struct {
	SessionName string
	Logger      *zap.Logger
}

// Adapter wraps a whatsmeow client behind the transport.Socket interface.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	logger    *zap.Logger
	ev        transport.Events
	cancelQR  context.CancelFunc
}

// Dial opens the session store, constructs a client with auto-reconnect
// disabled (the connection machine owns retry policy), wires event
// delivery, and starts connecting. Lifecycle progress arrives through
// ev.OnConnection.
func (d *Dialer) Dial(ctx context.Context, ev transport.Events) (transport.Socket, error) {
	// Device name shown on the phone's linked devices list.
	wastore.SetOSInfo("wamcp", [3]uint32{0, 1, 0})

	dbPath := session.SessionDBPath(d.SessionName)
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)
	client.EnableAutoReconnect = false

	a := &Adapter{
		client:    client,
		container: container,
		logger:    d.Logger,
		ev:        ev,
	}
	client.AddEventHandler(a.handleEvent)

	if client.Store.ID == nil {
		// QR channel must be requested before Connect.
		qrCtx, cancel := context.WithCancel(context.Background())
		a.cancelQR = cancel
		qrChan, err := client.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("get QR channel: %w", err)
		}
		go a.pumpQR(qrChan)
	}

	if err := client.Connect(); err != nil {
		a.Disconnect()
		return nil, fmt.Errorf("connect: %w", err)
	}
	return a, nil
}

func (a *Adapter) pumpQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			a.emit(transport.ConnUpdate{State: transport.StateConnecting, QR: item.Code})
		case "timeout":
			a.emit(transport.ConnUpdate{
				State:  transport.StateClosed,
				Reason: transport.ReasonError,
				Err:    fmt.Errorf("QR pairing timed out"),
			})
			return
		case "success":
			return
		default:
			if item.Error != nil {
				a.emit(transport.ConnUpdate{
					State:  transport.StateClosed,
					Reason: transport.ReasonError,
					Err:    item.Error,
				})
				return
			}
		}
	}
}

func (a *Adapter) emit(u transport.ConnUpdate) {
	if a.ev.OnConnection != nil {
		a.ev.OnConnection(u)
	}
}

func (a *Adapter) handleEvent(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		a.emit(transport.ConnUpdate{State: transport.StateOpen})
	case *events.LoggedOut:
		a.emit(transport.ConnUpdate{
			State:  transport.StateClosed,
			Reason: transport.ReasonLoggedOut,
			Err:    fmt.Errorf("logged out: %s", evt.Reason.String()),
		})
	case *events.StreamReplaced:
		a.emit(transport.ConnUpdate{
			State:  transport.StateClosed,
			Reason: transport.ReasonReplaced,
			Err:    fmt.Errorf("session replaced by another client"),
		})
	case *events.Disconnected:
		a.emit(transport.ConnUpdate{
			State:  transport.StateClosed,
			Reason: transport.ReasonError,
			Err:    fmt.Errorf("connection closed"),
		})
	case *events.StreamError:
		a.emit(transport.ConnUpdate{
			State:  transport.StateClosed,
			Reason: transport.ReasonError,
			Err:    fmt.Errorf("stream error: %s", evt.Code),
		})
	case *events.TemporaryBan:
		a.emit(transport.ConnUpdate{
			State:  transport.StateClosed,
			Reason: transport.ReasonError,
			Err:    fmt.Errorf("temporary ban: %s", evt.String()),
		})
	case *events.Message:
		if a.ev.OnMessages != nil {
			a.ev.OnMessages([]transport.Inbound{inbound(evt)})
		}
	case *events.Contact:
		if a.ev.OnContacts != nil {
			a.ev.OnContacts([]transport.Contact{{
				ID:       evt.JID.ToNonAD().String(),
				FullName: evt.Action.GetFullName(),
			}})
		}
	case *events.PushName:
		if a.ev.OnContacts != nil {
			a.ev.OnContacts([]transport.Contact{{
				ID:       evt.JID.ToNonAD().String(),
				PushName: evt.NewPushName,
			}})
		}
	}
}

func inbound(evt *events.Message) transport.Inbound {
	return transport.Inbound{
		ChatID:    evt.Info.Chat.String(),
		MsgID:     evt.Info.ID,
		SenderID:  evt.Info.Sender.ToNonAD().String(),
		PushName:  evt.Info.PushName,
		FromMe:    evt.Info.IsFromMe,
		IsGroup:   evt.Info.IsGroup,
		Timestamp: evt.Info.Timestamp,
		Envelope:  evt.Message,
	}
}

// SendText sends a text message. Returns the server message ID and
// timestamp.
func (a *Adapter) SendText(ctx context.Context, chatID, text string) (transport.SendResult, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return transport.SendResult{}, fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return transport.SendResult{}, fmt.Errorf("send message: %w", err)
	}
	return transport.SendResult{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// SendMedia uploads a local file and sends it as the media kind inferred
// from its MIME type (or as a document when asDocument is set).
func (a *Adapter) SendMedia(ctx context.Context, chatID, path, caption, mimeType string, asDocument bool) (transport.SendResult, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return transport.SendResult{}, fmt.Errorf("parse JID: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return transport.SendResult{}, fmt.Errorf("read file: %w", err)
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	mediaType := whatsmeow.MediaDocument
	switch {
	case asDocument:
	case strings.HasPrefix(mimeType, "image/"):
		mediaType = whatsmeow.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		mediaType = whatsmeow.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		mediaType = whatsmeow.MediaAudio
	}

	up, err := a.client.Upload(ctx, data, mediaType)
	if err != nil {
		return transport.SendResult{}, fmt.Errorf("upload file: %w", err)
	}

	var msg *waE2E.Message
	switch mediaType {
	case whatsmeow.MediaImage:
		msg = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			Mimetype:      proto.String(mimeType),
			Caption:       proto.String(caption),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			FileLength:    &up.FileLength,
			MediaKey:      up.MediaKey,
		}}
	case whatsmeow.MediaVideo:
		msg = &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			Mimetype:      proto.String(mimeType),
			Caption:       proto.String(caption),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			FileLength:    &up.FileLength,
			MediaKey:      up.MediaKey,
		}}
	case whatsmeow.MediaAudio:
		msg = &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			Mimetype:      proto.String(mimeType),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			FileLength:    &up.FileLength,
			MediaKey:      up.MediaKey,
		}}
	default:
		fileName := filepath.Base(path)
		msg = &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			Mimetype:      proto.String(mimeType),
			FileName:      proto.String(fileName),
			Caption:       proto.String(caption),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			FileLength:    &up.FileLength,
			MediaKey:      up.MediaKey,
		}}
	}

	resp, err := a.client.SendMessage(ctx, to, msg)
	if err != nil {
		return transport.SendResult{}, fmt.Errorf("send media: %w", err)
	}
	return transport.SendResult{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// GroupMetadata fetches a group's info from the transport.
func (a *Adapter) GroupMetadata(ctx context.Context, groupID string) (*transport.GroupInfo, error) {
	jid, err := types.ParseJID(groupID)
	if err != nil {
		return nil, fmt.Errorf("parse JID: %w", err)
	}
	info, err := a.client.GetGroupInfo(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("get group info: %w", err)
	}
	return groupInfo(info), nil
}

// JoinedGroups lists all groups the account participates in.
func (a *Adapter) JoinedGroups(ctx context.Context) ([]transport.GroupInfo, error) {
	groups, err := a.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("get joined groups: %w", err)
	}
	out := make([]transport.GroupInfo, 0, len(groups))
	for _, g := range groups {
		out = append(out, *groupInfo(g))
	}
	return out, nil
}

func groupInfo(g *types.GroupInfo) *transport.GroupInfo {
	info := &transport.GroupInfo{
		ID:    g.JID.String(),
		Name:  g.GroupName.Name,
		Topic: g.GroupTopic.Topic,
	}
	if !g.GroupCreated.IsZero() {
		info.CreatedAt = g.GroupCreated.Unix()
	}
	for _, p := range g.Participants {
		info.Participants = append(info.Participants, transport.GroupParticipant{
			ID:      p.JID.ToNonAD().String(),
			IsAdmin: p.IsAdmin || p.IsSuperAdmin,
		})
	}
	return info
}

// Download fetches the media payload of a cached envelope.
func (a *Adapter) Download(ctx context.Context, envelope *waE2E.Message) ([]byte, error) {
	if envelope == nil {
		return nil, fmt.Errorf("raw message unavailable")
	}
	var downloadable whatsmeow.DownloadableMessage
	switch {
	case envelope.GetImageMessage() != nil:
		downloadable = envelope.GetImageMessage()
	case envelope.GetVideoMessage() != nil:
		downloadable = envelope.GetVideoMessage()
	case envelope.GetAudioMessage() != nil:
		downloadable = envelope.GetAudioMessage()
	case envelope.GetDocumentMessage() != nil:
		downloadable = envelope.GetDocumentMessage()
	case envelope.GetStickerMessage() != nil:
		downloadable = envelope.GetStickerMessage()
	default:
		return nil, fmt.Errorf("message has no downloadable media")
	}
	data, err := a.client.Download(ctx, downloadable)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	return data, nil
}

// AccountID returns the account's phone number, or empty before pairing.
func (a *Adapter) AccountID() string {
	if a.client.Store.ID == nil {
		return ""
	}
	return a.client.Store.ID.User
}

// Logout invalidates the session and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// Disconnect terminates the connection without invalidating credentials.
func (a *Adapter) Disconnect() {
	if a.cancelQR != nil {
		a.cancelQR()
	}
	a.client.Disconnect()
}
