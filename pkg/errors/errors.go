package errors

import "errors"

// Room and lifecycle errors.
var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomFull          = errors.New("room is full")
	ErrAlreadyInRoom     = errors.New("already in another room")
	ErrNotParticipant    = errors.New("not a participant of this room")
	ErrNotHost           = errors.New("only the host can do that")
	ErrInvalidStatus     = errors.New("operation not allowed in current status")
	ErrKicked            = errors.New("kicked from this room")
	ErrRoomLocked        = errors.New("room password locked, try again later")
	ErrWrongPassword     = errors.New("wrong room password")
	ErrReadyCooldown     = errors.New("ready toggle is on cooldown")
	ErrStartCondition    = errors.New("start condition not met")
	ErrCountdownStarted  = errors.New("countdown already started")
	ErrNotRunning        = errors.New("match is not running")
	ErrMatchFinished     = errors.New("match already finished")
	ErrSubmitCooldown    = errors.New("submission cooldown active")
	ErrMatchNotFound     = errors.New("match not found")
	ErrLockTimeout       = errors.New("could not acquire room lock")
	ErrSelfJoin          = errors.New("cannot join own room as guest")
	ErrSuspended         = errors.New("temporarily suspended for abandoning matches")
)

// Validation errors.
var (
	ErrInvalidTitle    = errors.New("invalid room title")
	ErrInvalidBet      = errors.New("invalid bet amount")
	ErrInvalidDuration = errors.New("invalid match duration")
	ErrInvalidPassword = errors.New("room password must be 4 digits")
	ErrInvalidProblem  = errors.New("invalid problem selection")
	ErrEmptySource     = errors.New("source code must not be empty")
)

// Point ledger errors.
var (
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrHoldConflict       = errors.New("conflicting point hold state")
	ErrSettlementFailed   = errors.New("settlement failed, will be retried")
)

// Account errors.
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrNicknameTaken      = errors.New("nickname already taken")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidCode        = errors.New("invalid or expired verification code")
)

// Quota errors.
var (
	ErrDailyLimitExceeded = errors.New("daily usage limit exceeded")
)

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func New(text string) error {
	return errors.New(text)
}
