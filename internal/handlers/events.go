package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/teamflowhq/teamflow/internal/services"
	"github.com/teamflowhq/teamflow/internal/utils"
	"github.com/teamflowhq/teamflow/pkg/logger"
	"github.com/teamflowhq/teamflow/pkg/response"
)

// EventsHandler streams mutation fanout to clients over SSE or
// websocket. Both transports register with the same hub keyed by user
// id; the connection id doubles as the mutator id for echo suppression.
type EventsHandler struct {
	hub      *services.FanoutHub
	upgrader websocket.Upgrader
}

// NewEventsHandler creates the streaming handler.
func NewEventsHandler(hub *services.FanoutHub) *EventsHandler {
	return &EventsHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// authenticate resolves the user from the query token or bearer header.
// SSE and websocket clients cannot always set headers, hence the query
// fallback.
func (h *EventsHandler) authenticate(c *gin.Context) (string, bool) {
	token := c.Query("token")
	if token == "" {
		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}
	}
	if token == "" {
		response.Unauthorized(c, "unauthorized")
		return "", false
	}
	claims, err := utils.ParseToken(token)
	if err != nil {
		response.Unauthorized(c, "invalid token")
		return "", false
	}
	return claims.UserID, true
}

// connID returns the client-chosen connection id, or a fresh one.
func connID(c *gin.Context) string {
	if id := c.Query("connection_id"); id != "" {
		return id
	}
	return uuid.NewString()
}

// Stream handles SSE subscriptions.
func (h *EventsHandler) Stream(c *gin.Context) {
	userID, ok := h.authenticate(c)
	if !ok {
		return
	}

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	id := connID(c)
	sub := services.NewChannelSubscriber(100)
	h.hub.Subscribe(userID, id, sub)
	defer h.hub.Unsubscribe(userID, id)

	logger.Info().Str("user_id", userID).Str("conn_id", id).Int("total", h.hub.ClientCount()).Msg("SSE client connected")

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return false
			}
			data, err := json.Marshal(event)
			if err != nil {
				logger.Error().Err(err).Msg("SSE marshal error")
				return true
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			c.Writer.Flush()
			return true
		case <-c.Request.Context().Done():
			logger.Info().Str("user_id", userID).Str("conn_id", id).Msg("SSE client disconnected")
			return false
		}
	})
}

// wsSubscriber adapts a websocket connection to the hub.
type wsSubscriber struct {
	conn *websocket.Conn
}

func (s *wsSubscriber) Send(event services.Event) error {
	return s.conn.WriteJSON(event)
}

func (s *wsSubscriber) Close() {
	_ = s.conn.Close()
}

// Socket handles websocket subscriptions.
func (h *EventsHandler) Socket(c *gin.Context) {
	userID, ok := h.authenticate(c)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := connID(c)
	h.hub.Subscribe(userID, id, &wsSubscriber{conn: conn})
	logger.Info().Str("user_id", userID).Str("conn_id", id).Msg("websocket client connected")

	// Drain reads so pings and close frames are processed; unsubscribe
	// when the peer goes away.
	go func() {
		defer h.hub.Unsubscribe(userID, id)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				logger.Info().Str("user_id", userID).Str("conn_id", id).Msg("websocket client disconnected")
				return
			}
		}
	}()
}
