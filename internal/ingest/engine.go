// Package ingest turns inbound transport events into local store state.
package ingest

import (
	"context"
	"fmt"

	"github.com/mfigueiredo/wamcp/internal/bus"
	"github.com/mfigueiredo/wamcp/internal/conn"
	"github.com/mfigueiredo/wamcp/internal/store"
	"github.com/mfigueiredo/wamcp/internal/transport"
	"github.com/mfigueiredo/wamcp/internal/wa"
	"go.uber.org/zap"
)

// Engine subscribes to "wa." events on the bus and applies them to the
// chat directory, the message store, and the raw payload cache. Per chat,
// append order matches bus delivery order.
type Engine struct {
	msgs    *store.MessageStore
	dir     *store.ChatDirectory
	raw     *store.RawCache
	machine *conn.Machine
	bus     *bus.Bus
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewEngine creates an ingestion engine.
func NewEngine(msgs *store.MessageStore, dir *store.ChatDirectory, raw *store.RawCache, machine *conn.Machine, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		msgs:    msgs,
		dir:     dir,
		raw:     raw,
		machine: machine,
		bus:     b,
		logger:  logger,
	}
}

// Start subscribes to inbound transport events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("wa.", 1024)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessages:
		batch, ok := evt.Payload.([]transport.Inbound)
		if !ok {
			return
		}
		for _, in := range batch {
			e.ingest(in)
		}
	case bus.KindContacts:
		contacts, ok := evt.Payload.([]transport.Contact)
		if !ok {
			return
		}
		for _, c := range contacts {
			name := c.FullName
			if name == "" {
				name = c.PushName
			}
			e.dir.UpsertFromContact(c.ID, name)
		}
	}
}

func (e *Engine) ingest(in transport.Inbound) {
	body, msgType := wa.Classify(in.StubType, in.Envelope)
	media := wa.ExtractMedia(in.Envelope)

	msgID := in.MsgID
	if msgID == "" {
		msgID = "unknown"
	}
	senderName := in.PushName
	if senderName == "" {
		senderName = e.dir.DisplayName(in.SenderID)
	}

	m := &store.Message{
		MsgID:       msgID,
		ChatJID:     in.ChatID,
		SenderJID:   in.SenderID,
		SenderName:  senderName,
		Timestamp:   wa.UnixSeconds(in.Timestamp),
		Body:        body,
		FromMe:      in.FromMe,
		IsGroup:     in.IsGroup,
		MessageType: msgType,
		Media:       media,
	}

	evicted := e.msgs.Append(m)
	e.raw.Put(m.ChatJID, m.MsgID, in.Envelope)
	if evicted {
		e.raw.PruneToMatch(e.msgs)
	}

	pushName := in.PushName
	if in.FromMe {
		pushName = ""
	}
	e.dir.UpsertFromMessage(in.ChatID, in.IsGroup, pushName)
	if in.IsGroup && e.dir.NameIsProvisional(in.ChatID) {
		e.dir.EnrichGroupName(e.groupNamer(), in.ChatID)
	}

	e.bus.Publish(bus.KindMessageStored, map[string]string{
		"chat_jid": m.ChatJID,
		"msg_id":   m.MsgID,
		"type":     m.MessageType,
	})
	e.logger.Debug("message stored",
		zap.String("chat", m.ChatJID),
		zap.String("msg_id", m.MsgID),
		zap.String("type", m.MessageType))
}

func (e *Engine) groupNamer() store.GroupNamer {
	return socketNamer{machine: e.machine}
}

// socketNamer resolves group subjects through the current socket.
type socketNamer struct {
	machine *conn.Machine
}

func (n socketNamer) GroupName(ctx context.Context, groupJID string) (string, error) {
	sock := n.machine.Socket()
	if sock == nil {
		return "", fmt.Errorf("not connected")
	}
	info, err := sock.GroupMetadata(ctx, groupJID)
	if err != nil {
		return "", err
	}
	return info.Name, nil
}
