package battle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	appErr "arena-service/pkg/errors"
	"arena-service/pkg/lock"
	"arena-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type Config struct {
	MaxBetAmount         int64
	CountdownSeconds     int
	SubmitCooldown       time.Duration
	PostGameHold         time.Duration
	CountdownGrace       time.Duration
	SweepInterval        time.Duration
	ReadyCooldown        time.Duration
	PasswordAttemptLimit int64
	PasswordWindow       time.Duration
	PasswordLockTTL      time.Duration
	RakeRatio            float64

	// Disconnect handling: a running-match participant whose socket
	// drops gets DisconnectGrace to come back before forfeiting. Each
	// forfeit is a strike; reaching the limit inside the window
	// suspends the user from creating or joining rooms.
	DisconnectGrace        time.Duration
	DisconnectStrikeLimit  int64
	DisconnectStrikeWindow time.Duration
	DisconnectSuspension   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxBetAmount:         99999,
		CountdownSeconds:     5,
		SubmitCooldown:       2 * time.Second,
		PostGameHold:         30 * time.Second,
		CountdownGrace:       2 * time.Minute,
		SweepInterval:        1 * time.Minute,
		ReadyCooldown:        3 * time.Second,
		PasswordAttemptLimit: 5,
		PasswordWindow:       1 * time.Minute,
		PasswordLockTTL:      5 * time.Minute,

		DisconnectGrace:        30 * time.Second,
		DisconnectStrikeLimit:  3,
		DisconnectStrikeWindow: 24 * time.Hour,
		DisconnectSuspension:   30 * time.Minute,
	}
}

type Service struct {
	db       *gorm.DB
	store    RoomStore
	locks    *lock.Manager
	points   PointPort
	judge    JudgePort
	users    UserPort
	problems ProblemPort
	events   Publisher
	clock    clockwork.Clock
	cfg      Config

	startOnce sync.Once
	startErr  error
}

func NewService(db *gorm.DB, store RoomStore, locks *lock.Manager, points PointPort, judge JudgePort, users UserPort, problems ProblemPort, clk clockwork.Clock, cfg Config) *Service {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Service{
		db:       db,
		store:    store,
		locks:    locks,
		points:   points,
		judge:    judge,
		users:    users,
		problems: problems,
		events:   NopPublisher{},
		clock:    clk,
		cfg:      cfg,
	}
}

// SetPublisher attaches the realtime transport. Must be called before
// Start; the default publisher drops everything.
func (s *Service) SetPublisher(p Publisher) {
	if p != nil {
		s.events = p
	}
}

func (s *Service) lockRoom(ctx context.Context, roomID string) (string, error) {
	token, err := s.locks.AcquireRetry(ctx, buildRoomLockKey(roomID))
	if errors.Is(err, lock.ErrNotAcquired) {
		return "", appErr.ErrLockTimeout
	}
	return token, err
}

func (s *Service) unlockRoom(ctx context.Context, roomID, token string) {
	s.locks.Release(ctx, buildRoomLockKey(roomID), token)
}

func (s *Service) lockUser(ctx context.Context, userID int64) (string, error) {
	token, err := s.locks.AcquireRetry(ctx, buildUserLockKey(userID))
	if errors.Is(err, lock.ErrNotAcquired) {
		return "", appErr.ErrLockTimeout
	}
	return token, err
}

func (s *Service) unlockUser(ctx context.Context, userID int64, token string) {
	s.locks.Release(ctx, buildUserLockKey(userID), token)
}

type CreateRoomRequest struct {
	UserID          int64
	Title           string
	BetAmount       int64
	ProblemID       int64 // 0 picks a random problem
	LanguageID      int64
	DurationMinutes int // 0 uses the problem difficulty default
	Password        string
}

func (s *Service) CreateRoom(ctx context.Context, req CreateRoomRequest) (*RoomResponse, error) {
	if err := validateTitle(req.Title); err != nil {
		return nil, err
	}
	if err := validateBet(req.BetAmount, s.cfg.MaxBetAmount); err != nil {
		return nil, err
	}
	if req.Password != "" {
		if err := validatePassword(req.Password); err != nil {
			return nil, err
		}
	}

	userToken, err := s.lockUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer s.unlockUser(ctx, req.UserID, userToken)

	suspended, err := s.store.IsSuspended(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if suspended {
		return nil, appErr.ErrSuspended
	}

	active, err := s.store.ActiveRoom(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if active != "" {
		// Creating while already hosting a room returns that room
		// instead of erroring, so client retries are harmless.
		existing, err := s.store.GetRoom(ctx, active)
		if err == nil && existing.HostUserID == req.UserID {
			return NewRoomResponse(existing), nil
		}
		return nil, appErr.ErrAlreadyInRoom
	}

	profile, err := s.users.FindProfile(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	if req.BetAmount > 0 {
		balance, err := s.points.Balance(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if balance < req.BetAmount {
			return nil, appErr.ErrInsufficientPoints
		}
	}

	problemID := req.ProblemID
	randomProblem := problemID == 0
	if randomProblem {
		problemID, err = s.problems.RandomProblemID(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		exists, err := s.problems.ProblemExists(ctx, problemID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, appErr.ErrInvalidProblem
		}
	}

	// The default duration follows the problem's difficulty tier, not
	// the players.
	difficulty, err := s.problems.ProblemDifficulty(ctx, problemID)
	if err != nil {
		return nil, err
	}

	var passwordHash string
	if req.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		passwordHash = string(hashed)
	}

	now := s.clock.Now()
	state := &RoomState{
		RoomID:             uuid.NewString(),
		Title:              req.Title,
		Status:             StatusWaiting,
		HostUserID:         req.UserID,
		ProblemID:          problemID,
		RandomProblem:      randomProblem,
		LanguageID:         req.LanguageID,
		BetAmount:          req.BetAmount,
		MaxDurationMinutes: ResolveDuration(difficulty, req.DurationMinutes),
		Private:            passwordHash != "",
		PasswordHash:       passwordHash,
		CreatedAt:          now,
		Participants: map[int64]*Participant{
			req.UserID: {UserID: req.UserID, Nickname: profile.Nickname},
		},
	}

	if err := s.store.SaveRoom(ctx, state); err != nil {
		return nil, err
	}
	if err := s.store.LobbyAdd(ctx, state.RoomID); err != nil {
		return nil, err
	}
	if err := s.store.SetActiveRoom(ctx, req.UserID, state.RoomID); err != nil {
		return nil, err
	}

	s.publishLobby(ctx)
	return NewRoomResponse(state), nil
}

func (s *Service) JoinRoom(ctx context.Context, roomID string, userID int64, password string) (*RoomResponse, error) {
	userToken, err := s.lockUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer s.unlockUser(ctx, userID, userToken)

	active, err := s.store.ActiveRoom(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active == roomID {
		state, err := s.store.GetRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if userID == state.HostUserID {
			return nil, appErr.ErrSelfJoin
		}
		// Already seated as guest; rejoin is idempotent.
		return NewRoomResponse(state), nil
	}
	if active != "" {
		return nil, appErr.ErrAlreadyInRoom
	}

	suspended, err := s.store.IsSuspended(ctx, userID)
	if err != nil {
		return nil, err
	}
	if suspended {
		return nil, appErr.ErrSuspended
	}

	roomToken, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer s.unlockRoom(ctx, roomID, roomToken)

	state, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if state.Status != StatusWaiting {
		return nil, appErr.ErrInvalidStatus
	}
	if userID == state.HostUserID {
		return nil, appErr.ErrSelfJoin
	}
	if state.IsFull() {
		return nil, appErr.ErrRoomFull
	}

	kicked, err := s.store.IsKicked(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if kicked {
		return nil, appErr.ErrKicked
	}

	if state.Private {
		if err := s.checkPassword(ctx, state, userID, password); err != nil {
			return nil, err
		}
	}

	if state.BetAmount > 0 {
		balance, err := s.points.Balance(ctx, userID)
		if err != nil {
			return nil, err
		}
		if balance < state.BetAmount {
			return nil, appErr.ErrInsufficientPoints
		}
	}

	profile, err := s.users.FindProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	state.GuestUserID = userID
	state.Participants[userID] = &Participant{UserID: userID, Nickname: profile.Nickname}

	if err := s.store.SaveRoom(ctx, state); err != nil {
		return nil, err
	}
	if err := s.store.SetActiveRoom(ctx, userID, roomID); err != nil {
		return nil, err
	}

	s.events.PublishRoomState(state)
	s.publishLobby(ctx)
	return NewRoomResponse(state), nil
}

func (s *Service) checkPassword(ctx context.Context, state *RoomState, userID int64, password string) error {
	locked, err := s.store.IsPasswordLocked(ctx, state.RoomID, userID)
	if err != nil {
		return err
	}
	if locked {
		return appErr.ErrRoomLocked
	}

	if bcrypt.CompareHashAndPassword([]byte(state.PasswordHash), []byte(password)) == nil {
		return s.store.ClearPasswordFailures(ctx, state.RoomID, userID)
	}

	count, err := s.store.PasswordFailure(ctx, state.RoomID, userID, s.cfg.PasswordWindow)
	if err != nil {
		return err
	}
	if count >= s.cfg.PasswordAttemptLimit {
		if err := s.store.LockPassword(ctx, state.RoomID, userID, s.cfg.PasswordLockTTL); err != nil {
			return err
		}
		if err := s.store.ClearPasswordFailures(ctx, state.RoomID, userID); err != nil {
			return err
		}
		return appErr.ErrRoomLocked
	}
	return appErr.ErrWrongPassword
}

func (s *Service) LeaveRoom(ctx context.Context, roomID string, userID int64) error {
	roomToken, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer s.unlockRoom(ctx, roomID, roomToken)

	state, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if !state.IsParticipant(userID) {
		return appErr.ErrNotParticipant
	}

	switch state.Status {
	case StatusRunning:
		// Leaving a running match forfeits it.
		winner := state.OpponentOf(userID)
		if err := s.finishLocked(ctx, state, winner, WinReasonLeave); err != nil {
			return err
		}
		s.removeParticipantLocked(ctx, state, userID)
		if err := s.store.SaveRoom(ctx, state); err != nil {
			return err
		}
		s.afterFinish(ctx, state)
		return nil

	case StatusReady, StatusCountdown:
		if err := s.abortCountdownLocked(ctx, state); err != nil {
			return err
		}
		fallthrough

	case StatusWaiting:
		s.removeParticipantLocked(ctx, state, userID)
		if len(state.Participants) == 0 {
			return s.cleanupRoomLocked(ctx, state)
		}
		if err := s.store.SaveRoom(ctx, state); err != nil {
			return err
		}
		s.events.PublishRoomState(state)
		s.publishLobby(ctx)
		return nil

	case StatusFinished, StatusAbandoned:
		s.removeParticipantLocked(ctx, state, userID)
		if len(state.Participants) == 0 {
			return s.cleanupRoomLocked(ctx, state)
		}
		if err := s.store.SaveRoom(ctx, state); err != nil {
			return err
		}
		s.events.PublishRoomState(state)
		return nil
	}
	return appErr.ErrInvalidStatus
}

// removeParticipantLocked drops a participant and promotes the guest
// to host when the host is the one leaving.
func (s *Service) removeParticipantLocked(ctx context.Context, state *RoomState, userID int64) {
	delete(state.Participants, userID)
	if err := s.store.ClearActiveRoom(ctx, userID, state.RoomID); err != nil {
		logger.Log.Warn("failed to clear active room", zap.Int64("userID", userID), zap.Error(err))
	}
	switch userID {
	case state.HostUserID:
		state.HostUserID = state.GuestUserID
		state.GuestUserID = 0
	case state.GuestUserID:
		state.GuestUserID = 0
	}
	if host := state.Participant(state.HostUserID); host != nil {
		host.Ready = false
	}
}

func (s *Service) KickUser(ctx context.Context, roomID string, hostID, targetID int64) error {
	roomToken, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer s.unlockRoom(ctx, roomID, roomToken)

	state, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if state.Status != StatusWaiting {
		return appErr.ErrInvalidStatus
	}
	if hostID != state.HostUserID {
		return appErr.ErrNotHost
	}
	if targetID == hostID || !state.IsParticipant(targetID) {
		return appErr.ErrNotParticipant
	}

	s.removeParticipantLocked(ctx, state, targetID)
	if err := s.store.KickedAdd(ctx, roomID, targetID); err != nil {
		return err
	}
	if err := s.store.SaveRoom(ctx, state); err != nil {
		return err
	}

	s.events.PublishErrorToUser(targetID, "you were removed from the room")
	s.events.PublishRoomState(state)
	s.publishLobby(ctx)
	return nil
}

func (s *Service) SetReady(ctx context.Context, roomID string, userID int64, ready bool) error {
	roomToken, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer s.unlockRoom(ctx, roomID, roomToken)

	state, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	p := state.Participant(userID)
	if p == nil {
		return appErr.ErrNotParticipant
	}
	if state.Status == StatusCountdown {
		if ready {
			return appErr.ErrCountdownStarted
		}
		// Backing out during the countdown aborts it and refunds the
		// held stakes.
		return s.abortToWaitingLocked(ctx, state)
	}
	if state.Status != StatusWaiting {
		return appErr.ErrInvalidStatus
	}
	now := s.clock.Now()
	if state.ReadyCooldownUntil != nil && now.Before(*state.ReadyCooldownUntil) {
		return appErr.ErrReadyCooldown
	}

	p.Ready = ready

	if !state.BothReady() {
		if err := s.store.SaveRoom(ctx, state); err != nil {
			return err
		}
		s.events.PublishRoomState(state)
		return nil
	}

	// Both ready: freeze the stakes, then start the countdown. A hold
	// failure drops the room back to WAITING with ready flags cleared.
	state.Status = StatusReady
	state.MatchID = uuid.NewString()

	if err := s.createMatchRecord(ctx, state, now); err != nil {
		return err
	}
	if err := s.placeHolds(ctx, state); err != nil {
		state.Status = StatusWaiting
		matchID := state.MatchID
		state.MatchID = ""
		for _, part := range state.Participants {
			part.Ready = false
		}
		if saveErr := s.store.SaveRoom(ctx, state); saveErr != nil {
			return saveErr
		}
		if markErr := s.markMatchAbandoned(ctx, matchID); markErr != nil {
			logger.Log.Warn("failed to abandon match after hold failure",
				zap.String("matchID", matchID), zap.Error(markErr))
		}
		s.events.PublishRoomState(state)
		return err
	}

	state.Status = StatusCountdown
	state.CountdownStartedAt = &now
	if err := s.setMatchSettlement(ctx, state.MatchID, SettlementPending); err != nil {
		return err
	}
	if err := s.store.SetMatchRoom(ctx, state.MatchID, state.RoomID); err != nil {
		return err
	}
	if err := s.store.SaveRoom(ctx, state); err != nil {
		return err
	}

	s.events.PublishRoomState(state)
	go s.runCountdown(state.RoomID, state.MatchID)
	return nil
}

type UpdateSettingsRequest struct {
	RoomID          string
	UserID          int64
	Title           string
	BetAmount       int64
	ProblemID       int64
	DurationMinutes int
}

// UpdateSettings lets the host retune a waiting room. Any change
// clears the guest's ready flag so the new terms must be re-accepted.
func (s *Service) UpdateSettings(ctx context.Context, req UpdateSettingsRequest) (*RoomResponse, error) {
	if err := validateTitle(req.Title); err != nil {
		return nil, err
	}
	if err := validateBet(req.BetAmount, s.cfg.MaxBetAmount); err != nil {
		return nil, err
	}

	roomToken, err := s.lockRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	defer s.unlockRoom(ctx, req.RoomID, roomToken)

	state, err := s.store.GetRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	if state.Status != StatusWaiting {
		return nil, appErr.ErrInvalidStatus
	}
	if req.UserID != state.HostUserID {
		return nil, appErr.ErrNotHost
	}

	if req.ProblemID != 0 && req.ProblemID != state.ProblemID {
		exists, err := s.problems.ProblemExists(ctx, req.ProblemID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, appErr.ErrInvalidProblem
		}
		state.ProblemID = req.ProblemID
		state.RandomProblem = false
	}

	difficulty, err := s.problems.ProblemDifficulty(ctx, state.ProblemID)
	if err != nil {
		return nil, err
	}

	state.Title = req.Title
	state.BetAmount = req.BetAmount
	state.MaxDurationMinutes = ResolveDuration(difficulty, req.DurationMinutes)
	for _, part := range state.Participants {
		part.Ready = false
	}

	if err := s.store.SaveRoom(ctx, state); err != nil {
		return nil, err
	}
	s.events.PublishRoomState(state)
	s.publishLobby(ctx)
	return NewRoomResponse(state), nil
}

func (s *Service) GetRoom(ctx context.Context, roomID string) (*RoomResponse, error) {
	state, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	// Deadlines are evaluated lazily: reading an expired running match
	// finishes it first.
	if state.Status == StatusRunning && s.clock.Now().After(state.Deadline()) {
		if err := s.FinishByTimeout(ctx, roomID, state.MatchID); err != nil && !errors.Is(err, appErr.ErrInvalidStatus) {
			return nil, err
		}
		state, err = s.store.GetRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
	}
	return NewRoomResponse(state), nil
}

// CurrentRoom resolves the room the user is currently in, if any.
func (s *Service) CurrentRoom(ctx context.Context, userID int64) (*RoomResponse, error) {
	roomID, err := s.store.ActiveRoom(ctx, userID)
	if err != nil {
		return nil, err
	}
	if roomID == "" {
		return nil, appErr.ErrRoomNotFound
	}
	return s.GetRoom(ctx, roomID)
}

func (s *Service) ListRooms(ctx context.Context) ([]*RoomResponse, error) {
	states, err := s.loadLobby(ctx)
	if err != nil {
		return nil, err
	}
	responses := make([]*RoomResponse, 0, len(states))
	for _, state := range states {
		responses = append(responses, NewRoomResponse(state))
	}
	return responses, nil
}

func (s *Service) loadLobby(ctx context.Context) ([]*RoomState, error) {
	roomIDs, err := s.store.LobbyList(ctx)
	if err != nil {
		return nil, err
	}
	states := make([]*RoomState, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		state, err := s.store.GetRoom(ctx, roomID)
		if err != nil {
			if errors.Is(err, appErr.ErrRoomNotFound) {
				// Stale lobby entry; drop it.
				_ = s.store.LobbyRemove(ctx, roomID)
				continue
			}
			return nil, err
		}
		states = append(states, state)
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].CreatedAt.After(states[j].CreatedAt)
	})
	return states, nil
}

func (s *Service) publishLobby(ctx context.Context) {
	states, err := s.loadLobby(ctx)
	if err != nil {
		logger.Log.Warn("failed to load lobby for publish", zap.Error(err))
		return
	}
	s.events.PublishLobby(states)
}
