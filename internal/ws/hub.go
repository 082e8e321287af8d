package ws

import (
	"sync"

	"arena-service/internal/service/battle"
)

type OutgoingMessage struct {
	Type string      `json:"type"`
	Seq  uint64      `json:"seq"`
	Data interface{} `json:"data"`
}

const (
	eventRoomList     = "ROOM_LIST"
	eventRoomState    = "ROOM_STATE"
	eventCountdown    = "COUNTDOWN"
	eventStart        = "START"
	eventSubmitResult = "SUBMIT_RESULT"
	eventFinish       = "FINISH"
	eventError        = "ERROR"
)

// Hub fans battle events out to websocket sessions. Sends never
// block: a session that cannot keep up loses messages and can
// resynchronize from the REST state endpoint.
type Hub struct {
	mu    sync.Mutex
	seq   uint64
	rooms map[string]map[*session]struct{}
	users map[int64]map[*session]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*session]struct{}),
		users: make(map[int64]map[*session]struct{}),
	}
}

func (h *Hub) register(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions, ok := h.rooms[s.roomID]
	if !ok {
		sessions = make(map[*session]struct{})
		h.rooms[s.roomID] = sessions
	}
	sessions[s] = struct{}{}
	if s.userID != 0 {
		userSessions, ok := h.users[s.userID]
		if !ok {
			userSessions = make(map[*session]struct{})
			h.users[s.userID] = userSessions
		}
		userSessions[s] = struct{}{}
	}
}

func (h *Hub) unregister(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sessions, ok := h.rooms[s.roomID]; ok {
		delete(sessions, s)
		if len(sessions) == 0 {
			delete(h.rooms, s.roomID)
		}
	}
	if s.userID != 0 {
		if userSessions, ok := h.users[s.userID]; ok {
			delete(userSessions, s)
			if len(userSessions) == 0 {
				delete(h.users, s.userID)
			}
		}
	}
}

// lobbyRoomID is the pseudo-room clients watch for the room list.
const lobbyRoomID = "lobby"

func (h *Hub) nextSeqLocked() uint64 {
	h.seq++
	return h.seq
}

func (h *Hub) broadcastRoom(roomID, eventType string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msg := OutgoingMessage{Type: eventType, Seq: h.nextSeqLocked(), Data: data}
	for s := range h.rooms[roomID] {
		s.trySend(msg)
	}
}

// PublishRoomState implements battle.Publisher.
func (h *Hub) PublishRoomState(state *battle.RoomState) {
	h.broadcastRoom(state.RoomID, eventRoomState, battle.NewRoomResponse(state))
}

func (h *Hub) PublishLobby(states []*battle.RoomState) {
	responses := make([]*battle.RoomResponse, 0, len(states))
	for _, state := range states {
		responses = append(responses, battle.NewRoomResponse(state))
	}
	h.broadcastRoom(lobbyRoomID, eventRoomList, responses)
}

func (h *Hub) PublishCountdown(roomID string, secondsLeft int) {
	h.broadcastRoom(roomID, eventCountdown, map[string]interface{}{
		"roomId":      roomID,
		"secondsLeft": secondsLeft,
	})
}

func (h *Hub) PublishStart(state *battle.RoomState) {
	h.broadcastRoom(state.RoomID, eventStart, battle.NewRoomResponse(state))
}

func (h *Hub) PublishSubmitResult(roomID string, outcome battle.SubmitOutcome) {
	h.broadcastRoom(roomID, eventSubmitResult, outcome)
}

func (h *Hub) PublishFinish(state *battle.RoomState) {
	h.broadcastRoom(state.RoomID, eventFinish, battle.NewRoomResponse(state))
}

func (h *Hub) PublishErrorToUser(userID int64, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msg := OutgoingMessage{Type: eventError, Seq: h.nextSeqLocked(), Data: map[string]string{"message": message}}
	for s := range h.users[userID] {
		s.trySend(msg)
	}
}
