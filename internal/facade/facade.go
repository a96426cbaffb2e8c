// Package facade exposes the operations consumed by the tool-call layer.
// Every operation except Status requires an established connection and
// fails with a descriptive error otherwise.
package facade

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mfigueiredo/wamcp/internal/status"
	"github.com/mfigueiredo/wamcp/internal/store"
	"github.com/mfigueiredo/wamcp/internal/transport"
	"github.com/mfigueiredo/wamcp/internal/wa"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.uber.org/zap"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// SocketProvider yields the current transport socket, or nil when
// disconnected.
type SocketProvider interface {
	Socket() transport.Socket
}

// SendFileOptions adjust SendFile behavior.
type SendFileOptions struct {
	Caption    string
	Mimetype   string
	AsDocument bool
}

// MediaResult is the payload of a Media call.
type MediaResult struct {
	Format   string `json:"format"`
	Path     string `json:"path,omitempty"`
	Data     string `json:"data,omitempty"`
	Mimetype string `json:"mimetype,omitempty"`
}

// Facade routes tool-call operations to the stores and the connection
// machine.
type Facade struct {
	sockets  SocketProvider
	state    *status.Machine
	msgs     *store.MessageStore
	dir      *store.ChatDirectory
	raw      *store.RawCache
	mediaDir string
	logger   *zap.Logger
}

// New creates a facade.
func New(sockets SocketProvider, state *status.Machine, msgs *store.MessageStore, dir *store.ChatDirectory, raw *store.RawCache, mediaDir string, logger *zap.Logger) *Facade {
	return &Facade{
		sockets:  sockets,
		state:    state,
		msgs:     msgs,
		dir:      dir,
		raw:      raw,
		mediaDir: mediaDir,
		logger:   logger,
	}
}

// Status always succeeds and reports the latest snapshot.
func (f *Facade) Status() status.Snapshot {
	return f.state.Snapshot()
}

// State returns the current lifecycle state.
func (f *Facade) State() status.State {
	return f.state.Current()
}

// Counts returns the number of known chats and retained messages.
func (f *Facade) Counts() (chats, messages int) {
	return f.dir.Len(), f.msgs.Len()
}

// Chats lists known chats by recency.
func (f *Facade) Chats(limit int) ([]store.Chat, error) {
	if _, err := f.requireSocket(); err != nil {
		return nil, err
	}
	return f.dir.List(clampLimit(limit)), nil
}

// SendMessage sends text to a chat and records it locally. Returns the
// server message ID.
func (f *Facade) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	sock, err := f.requireSocket()
	if err != nil {
		return "", err
	}
	res, err := sock.SendText(ctx, chatID, text)
	if err != nil {
		return "", err
	}
	f.recordOwnMessage(sock, chatID, res, text, "text", nil)
	return res.ID, nil
}

// SendFile uploads and sends a local file to a chat. Returns the server
// message ID.
func (f *Facade) SendFile(ctx context.Context, chatID, path string, opts SendFileOptions) (string, error) {
	sock, err := f.requireSocket()
	if err != nil {
		return "", err
	}
	res, err := sock.SendMedia(ctx, chatID, path, opts.Caption, opts.Mimetype, opts.AsDocument)
	if err != nil {
		return "", err
	}
	body := opts.Caption
	if body == "" {
		body = "[file: " + filepath.Base(path) + "]"
	}
	f.recordOwnMessage(sock, chatID, res, body, "media", &store.Media{Kind: "file", FileName: filepath.Base(path), Mimetype: opts.Mimetype})
	return res.ID, nil
}

// Messages lists the most recent retained messages of a chat, or of all
// chats when chatID is empty, sorted ascending by timestamp.
func (f *Facade) Messages(chatID string, limit int) ([]store.Message, error) {
	if _, err := f.requireSocket(); err != nil {
		return nil, err
	}
	return f.msgs.List(chatID, clampLimit(limit)), nil
}

// DownloadMedia fetches the media payload of a cached message and writes
// it under outDir (the session media dir when empty). Returns the file
// path.
func (f *Facade) DownloadMedia(ctx context.Context, chatID, msgID, outDir string) (string, error) {
	sock, err := f.requireSocket()
	if err != nil {
		return "", err
	}
	env, media, err := f.cachedMedia(chatID, msgID)
	if err != nil {
		return "", err
	}
	data, err := sock.Download(ctx, env)
	if err != nil {
		return "", fmt.Errorf("download media for %s in %s: %w", msgID, chatID, err)
	}

	if outDir == "" {
		outDir = f.mediaDir
	}
	if err := os.MkdirAll(outDir, 0700); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(outDir, mediaFileName(msgID, media.Mimetype))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write media file: %w", err)
	}
	f.logger.Info("media downloaded", zap.String("path", path), zap.Int("bytes", len(data)))
	return path, nil
}

// Media returns a message's media payload either inline ("base64") or as
// a file path under the session media dir ("file").
func (f *Facade) Media(ctx context.Context, chatID, msgID, format string) (*MediaResult, error) {
	switch format {
	case "file":
		path, err := f.DownloadMedia(ctx, chatID, msgID, "")
		if err != nil {
			return nil, err
		}
		_, media, _ := f.cachedMedia(chatID, msgID)
		res := &MediaResult{Format: "file", Path: path}
		if media != nil {
			res.Mimetype = media.Mimetype
		}
		return res, nil
	case "", "base64":
		sock, err := f.requireSocket()
		if err != nil {
			return nil, err
		}
		env, media, err := f.cachedMedia(chatID, msgID)
		if err != nil {
			return nil, err
		}
		data, err := sock.Download(ctx, env)
		if err != nil {
			return nil, fmt.Errorf("download media for %s in %s: %w", msgID, chatID, err)
		}
		return &MediaResult{
			Format:   "base64",
			Data:     base64.StdEncoding.EncodeToString(data),
			Mimetype: media.Mimetype,
		}, nil
	default:
		return nil, fmt.Errorf("unknown media format %q (want \"base64\" or \"file\")", format)
	}
}

// GroupInfo fetches a group's metadata from the transport.
func (f *Facade) GroupInfo(ctx context.Context, groupID string) (*transport.GroupInfo, error) {
	sock, err := f.requireSocket()
	if err != nil {
		return nil, err
	}
	return sock.GroupMetadata(ctx, groupID)
}

// Groups lists all groups the account participates in.
func (f *Facade) Groups(ctx context.Context) ([]transport.GroupInfo, error) {
	sock, err := f.requireSocket()
	if err != nil {
		return nil, err
	}
	return sock.JoinedGroups(ctx)
}

// ContactName resolves a JID to its best known display name.
func (f *Facade) ContactName(jid string) (string, error) {
	if _, err := f.requireSocket(); err != nil {
		return "", err
	}
	return f.dir.DisplayName(jid), nil
}

func (f *Facade) requireSocket() (transport.Socket, error) {
	sock := f.sockets.Socket()
	snap := f.state.Snapshot()
	if sock == nil || !snap.Connected {
		if snap.Error != "" {
			return nil, fmt.Errorf("whatsapp connection not established: %s", snap.Error)
		}
		return nil, fmt.Errorf("whatsapp connection not established")
	}
	return sock, nil
}

func (f *Facade) cachedMedia(chatID, msgID string) (*waE2E.Message, *store.Media, error) {
	raw, ok := f.raw.Get(chatID, msgID)
	if !ok {
		return nil, nil, fmt.Errorf("no cached message %s in chat %s (never observed or evicted)", msgID, chatID)
	}
	media := wa.ExtractMedia(raw)
	if media == nil {
		return nil, nil, fmt.Errorf("message %s in chat %s has no media", msgID, chatID)
	}
	return raw, media, nil
}

func (f *Facade) recordOwnMessage(sock transport.Socket, chatID string, res transport.SendResult, body, msgType string, media *store.Media) {
	self := sock.AccountID()
	if self != "" {
		self += "@s.whatsapp.net"
	}
	isGroup := strings.HasSuffix(chatID, "@g.us")
	evicted := f.msgs.Append(&store.Message{
		MsgID:       res.ID,
		ChatJID:     chatID,
		SenderJID:   self,
		SenderName:  "me",
		Timestamp:   wa.UnixSeconds(res.Timestamp),
		Body:        body,
		FromMe:      true,
		IsGroup:     isGroup,
		MessageType: msgType,
		Media:       media,
	})
	if evicted {
		f.raw.PruneToMatch(f.msgs)
	}
	f.dir.UpsertFromMessage(chatID, isGroup, "")
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	if n > maxLimit {
		return maxLimit
	}
	return n
}

func mediaFileName(msgID, mimetype string) string {
	base := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return -1
		}
	}, msgID)
	if base == "" {
		base = uuid.NewString()
	}
	return base + extensionFor(mimetype)
}

func extensionFor(mimetype string) string {
	switch {
	case mimetype == "image/jpeg":
		return ".jpg"
	case mimetype == "image/png":
		return ".png"
	case mimetype == "image/webp":
		return ".webp"
	case strings.HasPrefix(mimetype, "video/"):
		return ".mp4"
	case strings.HasPrefix(mimetype, "audio/"):
		return ".ogg"
	case mimetype == "application/pdf":
		return ".pdf"
	default:
		return ".bin"
	}
}
