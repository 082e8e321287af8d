package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"arena-service/internal/service/battle"
	pkgAuth "arena-service/pkg/auth"
	"arena-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type Handler struct {
	hub       *Hub
	battleSvc *battle.Service
}

func NewHandler(hub *Hub, battleSvc *battle.Service) *Handler {
	return &Handler{hub: hub, battleSvc: battleSvc}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

// HandleBattleWS upgrades a room subscription. Connections without a
// valid token are accepted and can watch public events; anything that
// needs an identity fails per message.
func (h *Handler) HandleBattleWS(c *gin.Context) {
	roomID := strings.TrimSpace(c.Param("roomId"))
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	var userID int64
	token, err := getTokenFromRequest(c)
	if err == nil {
		claims, parseErr := pkgAuth.ParseUserToken(token)
		if parseErr == nil {
			userID = claims.SubjectID
		} else {
			logger.Log.Info("WS connect with invalid token", zap.String("roomID", roomID), zap.Error(parseErr))
		}
	} else {
		logger.Log.Info("WS connect without token", zap.String("roomID", roomID))
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Error("Failed to upgrade websocket", zap.Error(err))
		return
	}

	logger.Log.Info("New WebSocket connection",
		zap.String("roomID", roomID),
		zap.Int64("userID", userID),
	)

	s := newSession(conn, h, userID, roomID)
	h.hub.register(s)
	if userID != 0 {
		h.battleSvc.HandleReconnect(c.Request.Context(), userID, roomID)
	}
	s.run()
}

// HandleLobbyWS streams the open room list.
func (h *Handler) HandleLobbyWS(c *gin.Context) {
	c.Params = append(c.Params, gin.Param{Key: "roomId", Value: lobbyRoomID})
	h.HandleBattleWS(c)
}

func getTokenFromRequest(c *gin.Context) (string, error) {
	token := strings.TrimSpace(c.Query("token"))
	if token != "" {
		return token, nil
	}
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token = strings.TrimSpace(parts[1])
			if token != "" {
				return token, nil
			}
		}
	}
	return "", errors.New("missing token")
}

type session struct {
	conn      *websocket.Conn
	handler   *Handler
	userID    int64
	roomID    string
	send      chan OutgoingMessage
	done      chan struct{}
	pingEvery time.Duration
}

func newSession(conn *websocket.Conn, handler *Handler, userID int64, roomID string) *session {
	conn.SetReadLimit(1 << 20)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	return &session{
		conn:      conn,
		handler:   handler,
		userID:    userID,
		roomID:    roomID,
		send:      make(chan OutgoingMessage, 32),
		done:      make(chan struct{}),
		pingEvery: 25 * time.Second,
	}
}

func (s *session) trySend(msg OutgoingMessage) {
	select {
	case s.send <- msg:
	default:
		// Slow consumer; drop rather than block the hub.
	}
}

func (s *session) run() {
	go s.writePump()
	s.readPump()
}

func (s *session) readPump() {
	defer func() {
		close(s.done)
		s.handler.hub.unregister(s)
		s.conn.Close()
		if s.userID != 0 {
			// A dropped socket during a running match starts the
			// forfeit grace timer.
			s.handler.battleSvc.HandleDisconnect(context.Background(), s.userID, s.roomID)
		}
	}()

	for {
		mt, message, err := s.conn.ReadMessage()
		if err != nil {
			logger.Log.Info("WS read error", zap.Error(err), zap.Int64("userID", s.userID), zap.String("roomID", s.roomID))
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		var incoming struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(message, &incoming); err != nil {
			s.writeError("invalid payload")
			continue
		}
		if incoming.Type == "" {
			continue
		}

		if err := s.handleAction(incoming.Type, incoming.Data); err != nil {
			s.writeError(fmt.Sprintf("action failed: %v", err))
		}
	}
}

var errIdentityRequired = errors.New("authentication required")

func (s *session) handleAction(actionType string, data json.RawMessage) error {
	ctx := context.Background()
	svc := s.handler.battleSvc

	switch actionType {
	case "room":
		resp, err := svc.GetRoom(ctx, s.roomID)
		if err != nil {
			return err
		}
		s.trySend(OutgoingMessage{Type: eventRoomState, Data: resp})
		return nil
	case "rooms":
		responses, err := svc.ListRooms(ctx)
		if err != nil {
			return err
		}
		s.trySend(OutgoingMessage{Type: eventRoomList, Data: responses})
		return nil
	}

	if s.userID == 0 {
		return errIdentityRequired
	}

	switch actionType {
	case "join":
		var payload struct {
			Password string `json:"password"`
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &payload); err != nil {
				return err
			}
		}
		_, err := svc.JoinRoom(ctx, s.roomID, s.userID, payload.Password)
		return err
	case "ready":
		var payload struct {
			Ready bool `json:"ready"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		return svc.SetReady(ctx, s.roomID, s.userID, payload.Ready)
	case "submit":
		var payload struct {
			SourceCode string `json:"sourceCode"`
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		_, err := svc.Submit(ctx, battle.SubmitRequest{
			RoomID:     s.roomID,
			UserID:     s.userID,
			SourceCode: payload.SourceCode,
		})
		return err
	case "surrender":
		return svc.Surrender(ctx, s.roomID, s.userID)
	case "leave":
		return svc.LeaveRoom(ctx, s.roomID, s.userID)
	}
	return fmt.Errorf("unknown action %q", actionType)
}

func (s *session) writePump() {
	ticker := time.NewTicker(s.pingEvery)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			if err := s.conn.WriteJSON(msg); err != nil {
				logger.Log.Info("WS write error", zap.Error(err), zap.Int64("userID", s.userID), zap.String("roomID", s.roomID))
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) writeError(message string) {
	s.trySend(OutgoingMessage{Type: eventError, Data: map[string]string{"message": message}})
}
