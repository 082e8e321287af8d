package battle

import "time"

type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusReady     Status = "READY"
	StatusCountdown Status = "COUNTDOWN"
	StatusRunning   Status = "RUNNING"
	StatusFinished  Status = "FINISHED"
	StatusAbandoned Status = "ABANDONED"
)

const (
	SettlementNone    = "NONE"
	SettlementPending = "PENDING"
	SettlementDone    = "DONE"
	SettlementFailed  = "FAILED"
)

const (
	WinReasonFirstAC    = "FIRST_AC"
	WinReasonSurrender  = "SURRENDER"
	WinReasonLeave      = "LEAVE"
	WinReasonTimeout    = "TIMEOUT"
	WinReasonDisconnect = "DISCONNECT"
)

type Participant struct {
	UserID          int64      `json:"userId"`
	Nickname        string     `json:"nickname"`
	Ready           bool       `json:"ready"`
	Surrendered     bool       `json:"surrendered"`
	DisconnectedAt  *time.Time `json:"disconnectedAt,omitempty"`
	LastSubmittedAt *time.Time `json:"lastSubmittedAt,omitempty"`
	AcAt            *time.Time `json:"acAt,omitempty"`
	ElapsedMs       *int64     `json:"elapsedMs,omitempty"`
	JudgeMessage    string     `json:"judgeMessage,omitempty"`
}

// RoomState is the full ephemeral room record kept in redis. All
// mutations happen while holding the room lock; the struct itself has
// no internal synchronization.
type RoomState struct {
	RoomID             string                 `json:"roomId"`
	MatchID            string                 `json:"matchId,omitempty"`
	Title              string                 `json:"title"`
	Status             Status                 `json:"status"`
	HostUserID         int64                  `json:"hostUserId"`
	GuestUserID        int64                  `json:"guestUserId,omitempty"`
	ProblemID          int64                  `json:"problemId"`
	RandomProblem      bool                   `json:"randomProblem"`
	LanguageID         int64                  `json:"languageId"`
	BetAmount          int64                  `json:"betAmount"`
	MaxDurationMinutes int                    `json:"maxDurationMinutes"`
	Private            bool                   `json:"private"`
	PasswordHash       string                 `json:"passwordHash,omitempty"`
	WinnerUserID       int64                  `json:"winnerUserId,omitempty"`
	WinReason          string                 `json:"winReason,omitempty"`
	CreatedAt          time.Time              `json:"createdAt"`
	CountdownStartedAt *time.Time             `json:"countdownStartedAt,omitempty"`
	StartedAt          *time.Time             `json:"startedAt,omitempty"`
	FinishedAt         *time.Time             `json:"finishedAt,omitempty"`
	PostGameUntil      *time.Time             `json:"postGameUntil,omitempty"`
	ReadyCooldownUntil *time.Time             `json:"readyCooldownUntil,omitempty"`
	Participants       map[int64]*Participant `json:"participants"`
}

func (s *RoomState) Participant(userID int64) *Participant {
	if s.Participants == nil {
		return nil
	}
	return s.Participants[userID]
}

func (s *RoomState) IsParticipant(userID int64) bool {
	return s.Participant(userID) != nil
}

func (s *RoomState) IsFull() bool {
	return s.HostUserID != 0 && s.GuestUserID != 0
}

func (s *RoomState) OpponentOf(userID int64) int64 {
	switch userID {
	case s.HostUserID:
		return s.GuestUserID
	case s.GuestUserID:
		return s.HostUserID
	}
	return 0
}

func (s *RoomState) BothReady() bool {
	if !s.IsFull() {
		return false
	}
	host := s.Participant(s.HostUserID)
	guest := s.Participant(s.GuestUserID)
	return host != nil && guest != nil && host.Ready && guest.Ready
}

// Deadline reports when a running match expires. The zero time means
// the match has no deadline yet.
func (s *RoomState) Deadline() time.Time {
	if s.StartedAt == nil {
		return time.Time{}
	}
	return s.StartedAt.Add(time.Duration(s.MaxDurationMinutes) * time.Minute)
}

func (s *RoomState) UserIDs() []int64 {
	ids := make([]int64, 0, len(s.Participants))
	for id := range s.Participants {
		ids = append(ids, id)
	}
	return ids
}
