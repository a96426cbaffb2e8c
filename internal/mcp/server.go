// Package mcp exposes the session facade as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mfigueiredo/wamcp/internal/facade"
	"go.uber.org/zap"
)

// Server wraps the MCP server and routes tool calls to the facade.
type Server struct {
	server *server.MCPServer
	facade *facade.Facade
	logger *zap.Logger
}

// NewServer creates the MCP server and registers all tools.
func NewServer(f *facade.Facade, logger *zap.Logger) *Server {
	s := server.NewMCPServer(
		"wamcp",
		"0.1.0",
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	srv := &Server{server: s, facade: f, logger: logger}
	srv.registerTools()
	return srv
}

// Serve runs the stdio transport. Blocks until the client disconnects.
func (s *Server) Serve() error {
	return server.ServeStdio(s.server)
}

func (s *Server) registerTools() {
	s.server.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Get the WhatsApp connection status, including a pairing QR code when one is pending"),
	), s.handleGetStatus)

	s.server.AddTool(mcp.NewTool("list_chats",
		mcp.WithDescription("List known chats, most recently active first"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of chats to return (1-100, default 20)"),
		),
	), s.handleListChats)

	s.server.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a text message to a chat"),
		mcp.WithString("chat_id",
			mcp.Required(),
			mcp.Description("Chat JID, e.g. 5511999999999@s.whatsapp.net or 1234@g.us"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Message text"),
		),
	), s.handleSendMessage)

	s.server.AddTool(mcp.NewTool("send_file",
		mcp.WithDescription("Send a local file to a chat as image, video, audio or document"),
		mcp.WithString("chat_id",
			mcp.Required(),
			mcp.Description("Chat JID"),
		),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path of the file to send"),
		),
		mcp.WithString("caption",
			mcp.Description("Optional caption"),
		),
		mcp.WithString("mimetype",
			mcp.Description("Override the detected MIME type"),
		),
		mcp.WithBoolean("as_document",
			mcp.Description("Send as a document regardless of MIME type"),
		),
	), s.handleSendFile)

	s.server.AddTool(mcp.NewTool("list_messages",
		mcp.WithDescription("List recent messages of one chat, or across all chats"),
		mcp.WithString("chat_id",
			mcp.Description("Chat JID; omit to list across all chats"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of messages to return (1-100, default 20)"),
		),
	), s.handleListMessages)

	s.server.AddTool(mcp.NewTool("download_media",
		mcp.WithDescription("Download the media of a message to a local file"),
		mcp.WithString("chat_id",
			mcp.Required(),
			mcp.Description("Chat JID"),
		),
		mcp.WithString("message_id",
			mcp.Required(),
			mcp.Description("Message ID within the chat"),
		),
		mcp.WithString("output_dir",
			mcp.Description("Target directory; defaults to the session media dir"),
		),
	), s.handleDownloadMedia)

	s.server.AddTool(mcp.NewTool("get_media",
		mcp.WithDescription("Fetch the media of a message inline (base64) or as a file path"),
		mcp.WithString("chat_id",
			mcp.Required(),
			mcp.Description("Chat JID"),
		),
		mcp.WithString("message_id",
			mcp.Required(),
			mcp.Description("Message ID within the chat"),
		),
		mcp.WithString("format",
			mcp.Description("\"base64\" (default) or \"file\""),
		),
	), s.handleGetMedia)

	s.server.AddTool(mcp.NewTool("list_groups",
		mcp.WithDescription("List all groups the account participates in"),
	), s.handleListGroups)

	s.server.AddTool(mcp.NewTool("get_group_info",
		mcp.WithDescription("Get a group's name, topic and participants"),
		mcp.WithString("group_id",
			mcp.Required(),
			mcp.Description("Group JID, e.g. 1234@g.us"),
		),
	), s.handleGetGroupInfo)

	s.server.AddTool(mcp.NewTool("get_contact_name",
		mcp.WithDescription("Resolve a JID to its best known display name"),
		mcp.WithString("jid",
			mcp.Required(),
			mcp.Description("Contact or chat JID"),
		),
	), s.handleGetContactName)
}

func (s *Server) handleGetStatus(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	snap := s.facade.Status()
	chats, messages := s.facade.Counts()
	return jsonResult(map[string]any{
		"state":         string(s.facade.State()),
		"connected":     snap.Connected,
		"phone_number":  snap.PhoneNumber,
		"qr_code":       snap.QRCode,
		"error":         snap.Error,
		"chat_count":    chats,
		"message_count": messages,
	})
}

func (s *Server) handleListChats(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(request.GetFloat("limit", 0))
	chats, err := s.facade.Chats(limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(chats)
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, err := request.RequireString("chat_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := s.facade.SendMessage(ctx, chatID, text)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]string{"message_id": id, "chat_id": chatID})
}

func (s *Server) handleSendFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, err := request.RequireString("chat_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := facade.SendFileOptions{
		Caption:  request.GetString("caption", ""),
		Mimetype: request.GetString("mimetype", ""),
	}
	if args, ok := request.Params.Arguments.(map[string]any); ok {
		if v, ok := args["as_document"].(bool); ok {
			opts.AsDocument = v
		}
	}
	id, err := s.facade.SendFile(ctx, chatID, path, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]string{"message_id": id, "chat_id": chatID})
}

func (s *Server) handleListMessages(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID := request.GetString("chat_id", "")
	limit := int(request.GetFloat("limit", 0))
	msgs, err := s.facade.Messages(chatID, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(msgs)
}

func (s *Server) handleDownloadMedia(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, err := request.RequireString("chat_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msgID, err := request.RequireString("message_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := s.facade.DownloadMedia(ctx, chatID, msgID, request.GetString("output_dir", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]string{"path": path})
}

func (s *Server) handleGetMedia(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, err := request.RequireString("chat_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msgID, err := request.RequireString("message_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.facade.Media(ctx, chatID, msgID, request.GetString("format", "base64"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) handleListGroups(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groups, err := s.facade.Groups(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(groups)
}

func (s *Server) handleGetGroupInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groupID, err := request.RequireString("group_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, err := s.facade.GroupInfo(ctx, groupID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(info)
}

func (s *Server) handleGetContactName(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jid, err := request.RequireString("jid")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	name, err := s.facade.ContactName(jid)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]string{"jid": jid, "name": name})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
