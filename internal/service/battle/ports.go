package battle

import "context"

// PointPort is the slice of the point ledger this service needs. The
// ledger is the source of truth for balances; the battle service only
// ever moves points through holds keyed by match.
type PointPort interface {
	HoldBet(ctx context.Context, matchID string, userID int64, amount int64) error
	// SettleWin pays the pot to the winner. The boolean reports whether
	// the settlement was applied (or had already been applied); false
	// with a nil error means a recoverable conflict, holds untouched.
	SettleWin(ctx context.Context, matchID string, winnerID, loserID int64, amount int64) (bool, error)
	// Refund releases one participant's hold back to their balance.
	Refund(ctx context.Context, matchID string, userID int64, amount int64) (bool, error)
	HoldHeld(ctx context.Context, matchID string, userID int64) (bool, error)
	Balance(ctx context.Context, userID int64) (int64, error)
}

type JudgeCommand struct {
	MatchID    string
	UserID     int64
	ProblemID  int64
	LanguageID int64
	SourceCode string
}

type JudgeResult struct {
	Accepted bool
	Message  string
}

type JudgePort interface {
	Judge(ctx context.Context, cmd JudgeCommand) (JudgeResult, error)
}

type Profile struct {
	UserID   int64
	Nickname string
}

type UserPort interface {
	FindProfile(ctx context.Context, userID int64) (*Profile, error)
}

// ProblemPort resolves the algorithm problem catalog.
type ProblemPort interface {
	RandomProblemID(ctx context.Context) (int64, error)
	ProblemExists(ctx context.Context, problemID int64) (bool, error)
	ProblemDifficulty(ctx context.Context, problemID int64) (string, error)
}

type SubmitOutcome struct {
	MatchID   string `json:"matchId"`
	UserID    int64  `json:"userId"`
	Accepted  bool   `json:"accepted"`
	Message   string `json:"message,omitempty"`
	ElapsedMs int64  `json:"elapsedMs,omitempty"`
	Winner    bool   `json:"winner"`
}

// Publisher pushes room events to connected clients. Implementations
// must never block; slow consumers are the transport's problem.
type Publisher interface {
	PublishRoomState(state *RoomState)
	PublishLobby(rooms []*RoomState)
	PublishCountdown(roomID string, secondsLeft int)
	PublishStart(state *RoomState)
	PublishSubmitResult(roomID string, outcome SubmitOutcome)
	PublishFinish(state *RoomState)
	PublishErrorToUser(userID int64, message string)
}

// NopPublisher drops every event. Used when no realtime transport is
// attached yet and in tests.
type NopPublisher struct{}

func (NopPublisher) PublishRoomState(*RoomState)            {}
func (NopPublisher) PublishLobby([]*RoomState)              {}
func (NopPublisher) PublishCountdown(string, int)           {}
func (NopPublisher) PublishStart(*RoomState)                {}
func (NopPublisher) PublishSubmitResult(string, SubmitOutcome) {}
func (NopPublisher) PublishFinish(*RoomState)               {}
func (NopPublisher) PublishErrorToUser(int64, string)       {}
