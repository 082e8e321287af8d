package battle

import (
	"context"
	"time"

	appErr "arena-service/pkg/errors"
	"arena-service/pkg/logger"

	"go.uber.org/zap"
)

// runCountdown publishes one tick per second, then promotes the room
// to RUNNING. It bails out as soon as the room left COUNTDOWN (leave,
// recovery sweep) or the match was replaced.
func (s *Service) runCountdown(roomID, matchID string) {
	ctx := context.Background()
	for left := s.cfg.CountdownSeconds; left > 0; left-- {
		state, err := s.store.GetRoom(ctx, roomID)
		if err != nil || state.Status != StatusCountdown || state.MatchID != matchID {
			return
		}
		s.events.PublishCountdown(roomID, left)
		s.clock.Sleep(1 * time.Second)
	}
	if err := s.startMatch(ctx, roomID, matchID); err != nil {
		logger.Log.Warn("failed to start match",
			zap.String("roomID", roomID),
			zap.String("matchID", matchID),
			zap.Error(err))
	}
}

func (s *Service) startMatch(ctx context.Context, roomID, matchID string) error {
	roomToken, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer s.unlockRoom(ctx, roomID, roomToken)

	state, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if state.Status != StatusCountdown || state.MatchID != matchID {
		return appErr.ErrInvalidStatus
	}

	// Both holds must still be in place; anything else means the
	// ledger was touched behind our back, so the match cannot start.
	for _, userID := range []int64{state.HostUserID, state.GuestUserID} {
		if state.BetAmount == 0 {
			break
		}
		held, err := s.points.HoldHeld(ctx, matchID, userID)
		if err != nil {
			return err
		}
		if !held {
			if err := s.abortToWaitingLocked(ctx, state); err != nil {
				return err
			}
			return appErr.ErrStartCondition
		}
	}

	now := s.clock.Now()
	state.Status = StatusRunning
	state.StartedAt = &now
	if err := s.markMatchRunning(ctx, matchID, now); err != nil {
		return err
	}
	if err := s.store.SaveRoom(ctx, state); err != nil {
		return err
	}

	s.events.PublishStart(state)
	s.publishLobby(ctx)
	go s.watchDeadline(roomID, matchID, time.Duration(state.MaxDurationMinutes)*time.Minute)
	return nil
}

func (s *Service) watchDeadline(roomID, matchID string, duration time.Duration) {
	s.clock.Sleep(duration)
	if err := s.FinishByTimeout(context.Background(), roomID, matchID); err != nil {
		logger.Log.Debug("deadline watcher exit",
			zap.String("roomID", roomID),
			zap.String("matchID", matchID),
			zap.Error(err))
	}
}

// FinishByTimeout ends a running match whose deadline has passed.
// Nobody wins; both stakes are refunded.
func (s *Service) FinishByTimeout(ctx context.Context, roomID, matchID string) error {
	roomToken, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer s.unlockRoom(ctx, roomID, roomToken)

	state, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if state.Status != StatusRunning || state.MatchID != matchID {
		return appErr.ErrInvalidStatus
	}
	if s.clock.Now().Before(state.Deadline()) {
		return appErr.ErrInvalidStatus
	}

	if err := s.finishLocked(ctx, state, 0, WinReasonTimeout); err != nil {
		return err
	}
	if err := s.store.SaveRoom(ctx, state); err != nil {
		return err
	}
	s.afterFinish(ctx, state)
	return nil
}

func (s *Service) Surrender(ctx context.Context, roomID string, userID int64) error {
	roomToken, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return err
	}
	defer s.unlockRoom(ctx, roomID, roomToken)

	state, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	// Conceding during the countdown forfeits too; the holds are
	// already in place by then.
	if state.Status != StatusRunning && state.Status != StatusCountdown {
		return appErr.ErrNotRunning
	}
	p := state.Participant(userID)
	if p == nil {
		return appErr.ErrNotParticipant
	}

	p.Surrendered = true
	if err := s.finishLocked(ctx, state, state.OpponentOf(userID), WinReasonSurrender); err != nil {
		return err
	}
	if err := s.store.SaveRoom(ctx, state); err != nil {
		return err
	}
	s.afterFinish(ctx, state)
	return nil
}

// finishLocked moves the room to FINISHED and persists the match row.
// The caller still holds the room lock and saves the state afterwards.
func (s *Service) finishLocked(ctx context.Context, state *RoomState, winnerID int64, reason string) error {
	now := s.clock.Now()
	state.Status = StatusFinished
	state.FinishedAt = &now
	state.WinnerUserID = winnerID
	state.WinReason = reason
	until := now.Add(s.cfg.PostGameHold)
	state.PostGameUntil = &until

	if winnerID != 0 && reason == WinReasonFirstAC {
		if p := state.Participant(winnerID); p != nil && state.StartedAt != nil && p.AcAt != nil {
			elapsed := p.AcAt.Sub(*state.StartedAt).Milliseconds()
			p.ElapsedMs = &elapsed
		}
	}

	return s.markMatchFinished(ctx, state)
}

// afterFinish runs settlement and notifications once the lock is
// released. Settlement failures are logged and left FAILED for the
// manual retry path.
func (s *Service) afterFinish(ctx context.Context, state *RoomState) {
	if err := s.settleMatch(ctx, state.MatchID); err != nil {
		logger.Log.Error("settlement failed",
			zap.String("matchID", state.MatchID),
			zap.Error(err))
	}
	s.events.PublishFinish(state)
	s.publishLobby(ctx)
	go s.cleanupAfterPostGame(state.RoomID, state.MatchID)
}

// abortCountdownLocked refunds the held stakes and drops the room back
// to WAITING. Used when a participant bails during countdown and by
// the recovery sweep.
func (s *Service) abortCountdownLocked(ctx context.Context, state *RoomState) error {
	matchID := state.MatchID
	if matchID != "" {
		if err := s.markMatchAbandoned(ctx, matchID); err != nil {
			return err
		}
		if err := s.settleMatch(ctx, matchID); err != nil {
			logger.Log.Error("refund on countdown abort failed",
				zap.String("matchID", matchID), zap.Error(err))
		}
		if err := s.store.ClearMatchRoom(ctx, matchID); err != nil {
			return err
		}
	}
	return s.resetToWaitingLocked(state)
}

func (s *Service) abortToWaitingLocked(ctx context.Context, state *RoomState) error {
	if err := s.abortCountdownLocked(ctx, state); err != nil {
		return err
	}
	if err := s.store.SaveRoom(ctx, state); err != nil {
		return err
	}
	s.events.PublishRoomState(state)
	return nil
}

func (s *Service) resetToWaitingLocked(state *RoomState) error {
	state.Status = StatusWaiting
	state.MatchID = ""
	state.CountdownStartedAt = nil
	state.StartedAt = nil
	state.FinishedAt = nil
	state.PostGameUntil = nil
	state.WinnerUserID = 0
	state.WinReason = ""
	for _, p := range state.Participants {
		p.Ready = false
		p.Surrendered = false
		p.DisconnectedAt = nil
		p.LastSubmittedAt = nil
		p.AcAt = nil
		p.ElapsedMs = nil
		p.JudgeMessage = ""
	}
	cooldown := s.clock.Now().Add(s.cfg.ReadyCooldown)
	state.ReadyCooldownUntil = &cooldown
	return nil
}

// cleanupAfterPostGame tears the room down once the post-game window
// is over. Participants that already left were removed earlier; here
// everything that remains gets dropped.
func (s *Service) cleanupAfterPostGame(roomID, matchID string) {
	s.clock.Sleep(s.cfg.PostGameHold)
	ctx := context.Background()

	roomToken, err := s.lockRoom(ctx, roomID)
	if err != nil {
		logger.Log.Warn("post-game cleanup could not lock room",
			zap.String("roomID", roomID), zap.Error(err))
		return
	}
	defer s.unlockRoom(ctx, roomID, roomToken)

	state, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return
	}
	if state.MatchID != matchID || (state.Status != StatusFinished && state.Status != StatusAbandoned) {
		return
	}

	// Anyone still seated gets a fresh WAITING room for a rematch; an
	// empty room is torn down.
	if len(state.Participants) > 0 {
		if err := s.store.ClearMatchRoom(ctx, matchID); err != nil {
			logger.Log.Warn("post-game cleanup failed",
				zap.String("roomID", roomID), zap.Error(err))
			return
		}
		if err := s.resetToWaitingLocked(state); err != nil {
			return
		}
		if err := s.store.SaveRoom(ctx, state); err != nil {
			logger.Log.Warn("post-game reset failed",
				zap.String("roomID", roomID), zap.Error(err))
			return
		}
		s.events.PublishRoomState(state)
		s.publishLobby(ctx)
		return
	}
	if err := s.cleanupRoomLocked(ctx, state); err != nil {
		logger.Log.Warn("post-game cleanup failed",
			zap.String("roomID", roomID), zap.Error(err))
	}
}

func (s *Service) cleanupRoomLocked(ctx context.Context, state *RoomState) error {
	for _, userID := range state.UserIDs() {
		if err := s.store.ClearActiveRoom(ctx, userID, state.RoomID); err != nil {
			return err
		}
	}
	if state.MatchID != "" {
		if err := s.store.ClearMatchRoom(ctx, state.MatchID); err != nil {
			return err
		}
	}
	if err := s.store.ClearKicked(ctx, state.RoomID); err != nil {
		return err
	}
	if err := s.store.LobbyRemove(ctx, state.RoomID); err != nil {
		return err
	}
	if err := s.store.DeleteRoom(ctx, state.RoomID); err != nil {
		return err
	}
	s.publishLobby(ctx)
	return nil
}
