package battle

import (
	"sort"
	"time"
)

// RoomResponse is the outward-facing view of a room. It never carries
// the password hash; private rooms only advertise that a password is
// required.
type RoomResponse struct {
	RoomID             string                `json:"roomId"`
	MatchID            string                `json:"matchId,omitempty"`
	Title              string                `json:"title"`
	Status             Status                `json:"status"`
	HostUserID         int64                 `json:"hostUserId"`
	GuestUserID        int64                 `json:"guestUserId,omitempty"`
	ProblemID          int64                 `json:"problemId"`
	RandomProblem      bool                  `json:"randomProblem"`
	LanguageID         int64                 `json:"languageId"`
	BetAmount          int64                 `json:"betAmount"`
	MaxDurationMinutes int                   `json:"maxDurationMinutes"`
	Private            bool                  `json:"private"`
	WinnerUserID       int64                 `json:"winnerUserId,omitempty"`
	WinReason          string                `json:"winReason,omitempty"`
	CreatedAt          time.Time             `json:"createdAt"`
	CountdownStartedAt *time.Time            `json:"countdownStartedAt,omitempty"`
	StartedAt          *time.Time            `json:"startedAt,omitempty"`
	FinishedAt         *time.Time            `json:"finishedAt,omitempty"`
	Deadline           *time.Time            `json:"deadline,omitempty"`
	PostGameUntil      *time.Time            `json:"postGameUntil,omitempty"`
	Participants       []ParticipantResponse `json:"participants"`
}

type ParticipantResponse struct {
	UserID       int64      `json:"userId"`
	Nickname     string     `json:"nickname"`
	Ready        bool       `json:"ready"`
	Surrendered  bool       `json:"surrendered"`
	AcAt         *time.Time `json:"acAt,omitempty"`
	ElapsedMs    *int64     `json:"elapsedMs,omitempty"`
	JudgeMessage string     `json:"judgeMessage,omitempty"`
}

func NewRoomResponse(state *RoomState) *RoomResponse {
	resp := &RoomResponse{
		RoomID:             state.RoomID,
		MatchID:            state.MatchID,
		Title:              state.Title,
		Status:             state.Status,
		HostUserID:         state.HostUserID,
		GuestUserID:        state.GuestUserID,
		ProblemID:          state.ProblemID,
		RandomProblem:      state.RandomProblem,
		LanguageID:         state.LanguageID,
		BetAmount:          state.BetAmount,
		MaxDurationMinutes: state.MaxDurationMinutes,
		Private:            state.Private,
		WinnerUserID:       state.WinnerUserID,
		WinReason:          state.WinReason,
		CreatedAt:          state.CreatedAt,
		CountdownStartedAt: state.CountdownStartedAt,
		StartedAt:          state.StartedAt,
		FinishedAt:         state.FinishedAt,
		PostGameUntil:      state.PostGameUntil,
	}
	if deadline := state.Deadline(); !deadline.IsZero() {
		resp.Deadline = &deadline
	}
	for _, p := range state.Participants {
		resp.Participants = append(resp.Participants, ParticipantResponse{
			UserID:       p.UserID,
			Nickname:     p.Nickname,
			Ready:        p.Ready,
			Surrendered:  p.Surrendered,
			AcAt:         p.AcAt,
			ElapsedMs:    p.ElapsedMs,
			JudgeMessage: p.JudgeMessage,
		})
	}
	sort.Slice(resp.Participants, func(i, j int) bool {
		return resp.Participants[i].UserID < resp.Participants[j].UserID
	})
	return resp
}
