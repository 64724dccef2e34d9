package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/instachat/backend/internal/handler/chat"
	"github.com/zhouzirui/instachat/backend/internal/middleware"
	chatmodel "github.com/zhouzirui/instachat/backend/internal/model/chat"
	chatService "github.com/zhouzirui/instachat/backend/internal/service/chat"
	"github.com/zhouzirui/instachat/backend/internal/service/reply"
	sessionService "github.com/zhouzirui/instachat/backend/internal/service/session"
	"github.com/zhouzirui/instachat/backend/pkg/utils"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Inbound command types.
const (
	CommandSend         = "send"
	CommandDraft        = "draft"
	CommandRecordBegin  = "record.begin"
	CommandRecordCancel = "record.cancel"
	CommandRecordFinish = "record.finish"
	CommandAttach       = "attach"
)

// Handler WebSocket会话处理器：推送会话事件并接收输入框指令
type Handler struct {
	sessions *sessionService.Service
	chatSvc  *chatService.Service
	replies  *reply.Orchestrator
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// New 创建WebSocket处理器
func New(sessions *sessionService.Service, chatSvc *chatService.Service, replies *reply.Orchestrator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions: sessions,
		chatSvc:  chatSvc,
		replies:  replies,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger.Named("handler.ws"),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/conversations/{conversationID}/ws", h.handleWebSocket)
}

// Command is a client frame.
type Command struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Frame is a server frame. Events reuse the conversation event payload.
type Frame struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversationId,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      int64       `json:"timestamp"`
}

// conn serialises writes; gorilla connections allow a single concurrent writer.
type conn struct {
	ws     *websocket.Conn
	mu     sync.Mutex
	convID string
}

func (c *conn) write(frameType string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(Frame{
		Type:           frameType,
		ConversationID: c.convID,
		Data:           data,
		Timestamp:      time.Now().Unix(),
	})
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// handleWebSocket 处理WebSocket连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFromContext(r.Context())
	id := chi.URLParam(r, "conversationID")

	if err := h.sessions.Authorize(r.Context(), sess.ID, id); err != nil {
		utils.RespondError(w, chat.StatusFor(err), err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := h.chatSvc.Subscribe(ctx, id)
	if err != nil {
		utils.RespondError(w, chat.StatusFor(err), err.Error())
		return
	}
	snap, err := h.chatSvc.Snapshot(ctx, id)
	if err != nil {
		utils.RespondError(w, chat.StatusFor(err), err.Error())
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	c := &conn{ws: ws, convID: id}
	h.logger.Debug("connection opened", zap.String("conversation_id", id))

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := c.write("snapshot", snap); err != nil {
		return
	}

	go h.writeLoop(ctx, cancel, c, events)

	for {
		var cmd Command
		if err := ws.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("read failed", zap.String("conversation_id", id), zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		if err := h.handleCommand(ctx, id, cmd); err != nil {
			if writeErr := c.write("error", map[string]string{"command": cmd.Type, "message": err.Error()}); writeErr != nil {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// writeLoop forwards events and pings until the subscription ends. Closing the socket on
// exit unblocks the reader.
func (h *Handler) writeLoop(ctx context.Context, cancel context.CancelFunc, c *conn, events <-chan chatmodel.Event) {
	defer func() {
		cancel()
		_ = c.ws.Close()
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.write(string(ev.Type), ev); err != nil {
				return
			}
			if ev.Type == chatmodel.EventClosed {
				c.mu.Lock()
				_ = c.ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "conversation closed"),
					time.Now().Add(writeWait))
				c.mu.Unlock()
				return
			}
		}
	}
}

// handleCommand applies one composer command. Replies and state changes reach the client as
// events, so only failures are answered directly. Empty sends are ignored.
func (h *Handler) handleCommand(ctx context.Context, id string, cmd Command) error {
	var err error
	switch cmd.Type {
	case CommandSend:
		_, err = h.replies.Send(ctx, id, cmd.Text)
	case CommandDraft:
		err = h.chatSvc.SetDraft(ctx, id, cmd.Text)
	case CommandRecordBegin:
		err = h.chatSvc.BeginRecording(ctx, id)
	case CommandRecordCancel:
		err = h.chatSvc.CancelRecording(ctx, id)
	case CommandRecordFinish:
		_, err = h.replies.FinishRecording(ctx, id)
	case CommandAttach:
		_, err = h.replies.AttachFile(ctx, id, cmd.Filename)
	default:
		return errors.New("unsupported command: " + cmd.Type)
	}

	if errors.Is(err, chatService.ErrEmptyMessage) {
		return nil
	}
	return err
}
