// Package gateway implements the server side of the realtime chat
// protocol: a reference implementation used by the CLI demo and the
// integration tests. Production deployments front a clinical language
// model behind the Responder; everything else is the same wire contract.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/carelinehq/realtime/internal/attachments"
	"github.com/carelinehq/realtime/internal/config"
	"github.com/carelinehq/realtime/internal/credentials"
	"github.com/carelinehq/realtime/internal/domain"
	"github.com/carelinehq/realtime/internal/history"
	"github.com/carelinehq/realtime/internal/protocol"
	"github.com/carelinehq/realtime/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// sessionState is what the gateway retains about a session across
// reconnects.
type sessionState struct {
	ID              string
	UserID          string
	Mode            domain.Mode
	ClinicalContext json.RawMessage
}

type Gateway struct {
	cfg       config.GatewayConfig
	auth      *credentials.Manager
	store     history.Store
	attach    attachments.Store
	responder Responder
	logger    zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionState
}

func New(cfg config.GatewayConfig, auth *credentials.Manager, store history.Store, attach attachments.Store, responder Responder) *Gateway {
	return &Gateway{
		cfg:       cfg,
		auth:      auth,
		store:     store,
		attach:    attach,
		responder: responder,
		logger:    log.L(),
		sessions:  make(map[string]*sessionState),
	}
}

// RegisterRoutes wires the gateway endpoints onto a gin engine.
func (g *Gateway) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", g.handleHealth)
	r.POST("/v1/auth/token", g.handleToken)
	r.GET("/v1/sessions/:id/history", g.handleHistory)
	r.POST("/v1/attachments", g.handleAttachmentUpload)
	r.GET("/v1/attachments/*key", g.handleAttachmentDownload)
	r.GET("/v1/chat/ws", g.handleWebSocket)
}

func (g *Gateway) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type tokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (g *Gateway) handleToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	token, err := g.auth.Issue(req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (g *Gateway) handleHistory(c *gin.Context) {
	if _, err := g.auth.Validate(bearerToken(c)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	msgs, err := g.store.Load(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == history.ErrNotFound {
			c.JSON(http.StatusOK, gin.H{"messages": []domain.Message{}})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// handleAttachmentUpload stores one multipart file and returns the
// reference a message.send frame carries. The bytes never travel over the
// websocket.
func (g *Gateway) handleAttachmentUpload(c *gin.Context) {
	if _, err := g.auth.Validate(bearerToken(c)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file field is required"})
		return
	}
	defer file.Close()

	att, err := g.attach.Upload(c.Request.Context(), header.Filename,
		header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		g.logger.Error().Err(err).Msg("attachment upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store attachment"})
		return
	}
	c.JSON(http.StatusOK, att)
}

func (g *Gateway) handleAttachmentDownload(c *gin.Context) {
	if _, err := g.auth.Validate(bearerToken(c)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	key := strings.TrimPrefix(c.Param("key"), "/")
	rc, err := g.attach.Open(c.Request.Context(), key)
	if err != nil {
		if err == attachments.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open attachment"})
		return
	}
	defer rc.Close()

	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		g.logger.Warn().Err(err).Msg("attachment download aborted")
	}
}

func (g *Gateway) handleWebSocket(c *gin.Context) {
	claims, err := g.auth.Validate(c.Query("token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(uuid.New().String(), claims.UserID, conn, g.cfg.WebSocket)
	go client.WritePump()
	go client.ReadPump(g.handleFrame, g.onClose)
}

func (g *Gateway) onClose(client *Client) {
	// Session state survives the socket so a reconnect can resume it.
	g.logger.Debug().Str("client_id", client.ID).Str(log.FieldSessionID, client.SessionID()).Msg("client disconnected")
}

func (g *Gateway) handleFrame(client *Client, data []byte) {
	fr, err := protocol.Decode(data)
	if err != nil {
		client.SendFrame(protocol.NewError(protocol.CodeBadRequest, "malformed frame"))
		return
	}

	switch f := fr.(type) {
	case *protocol.SessionStartFrame:
		g.handleSessionStart(client, f)

	case *protocol.MessageSendFrame:
		g.handleMessageSend(client, f)

	case *protocol.PingFrame:
		client.SendFrame(protocol.NewPong())

	case *protocol.PongFrame:
		// Advisory.

	default:
		client.SendFrame(protocol.NewError(protocol.CodeBadRequest, "unexpected frame kind"))
	}
}

func (g *Gateway) handleSessionStart(client *Client, f *protocol.SessionStartFrame) {
	sessionID := f.SessionID

	g.mu.Lock()
	state, known := g.sessions[sessionID]
	if !known {
		if sessionID == "" {
			sessionID = uuid.New().String()
		}
		state = &sessionState{
			ID:              sessionID,
			UserID:          client.UserID,
			Mode:            f.Mode,
			ClinicalContext: f.ClinicalContext,
		}
		g.sessions[sessionID] = state
	}
	g.mu.Unlock()

	if known && state.UserID != client.UserID {
		client.SendFrame(protocol.NewError(protocol.CodeSessionRevoked, "session belongs to another user"))
		return
	}

	client.BindSession(sessionID)
	client.SendFrame(protocol.NewSessionStarted(sessionID))
	g.logger.Info().Str(log.FieldSessionID, sessionID).Bool("resumed", known).Msg("session started")
}

func (g *Gateway) handleMessageSend(client *Client, f *protocol.MessageSendFrame) {
	sessionID := client.SessionID()
	if sessionID == "" || sessionID != f.SessionID {
		client.SendFrame(protocol.NewError(protocol.CodeBadRequest, "no session bound"))
		return
	}

	if client.CountMessage(g.cfg.MaxMessages) {
		client.SendFrame(protocol.NewError(protocol.CodeQuotaExceeded, "message quota exhausted"))
		return
	}

	ctx := context.Background()
	userMsg := domain.Message{
		ID:          f.MessageID,
		Role:        domain.RoleUser,
		Content:     f.Content,
		Attachments: f.Attachments,
	}
	if err := g.store.Record(ctx, sessionID, userMsg); err != nil {
		g.logger.Warn().Err(err).Msg("failed to record user message")
	}

	go g.respond(ctx, client, sessionID, f.Content)
}

// respond streams one assistant reply: deltas, completion, then any
// citations. Citations deliberately trail the completion frame; clients
// must attach them to an already finalized message.
func (g *Gateway) respond(ctx context.Context, client *Client, sessionID, content string) {
	reply := g.responder.Respond(ctx, sessionID, content)
	messageID := uuid.New().String()

	for _, fragment := range reply.Fragments {
		client.SendFrame(protocol.NewMessageDelta(sessionID, messageID, domain.RoleAssistant, fragment))
	}
	client.SendFrame(protocol.NewMessageComplete(sessionID, messageID))
	if len(reply.Citations) > 0 {
		client.SendFrame(protocol.NewCitationList(sessionID, messageID, reply.Citations))
	}

	assistantMsg := domain.Message{
		ID:        messageID,
		Role:      domain.RoleAssistant,
		Content:   reply.Content(),
		Citations: reply.Citations,
	}
	if err := g.store.Record(ctx, sessionID, assistantMsg); err != nil {
		g.logger.Warn().Err(err).Msg("failed to record assistant message")
	}
}

func bearerToken(c *gin.Context) string {
	const prefix = "Bearer "
	h := c.GetHeader("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return c.Query("token")
}
