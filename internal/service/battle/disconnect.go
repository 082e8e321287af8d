package battle

import (
	"context"

	"arena-service/pkg/logger"

	"go.uber.org/zap"
)

// HandleDisconnect marks a running-match participant as gone and arms
// the grace timer. If they have not reconnected when it fires, the
// opponent wins by forfeit. Only the socket subscribed to the user's
// own room counts; lobby and spectator sockets change nothing, and
// outside a running match leave and timeout already cover the exits.
func (s *Service) HandleDisconnect(ctx context.Context, userID int64, roomID string) {
	active, err := s.store.ActiveRoom(ctx, userID)
	if err != nil || active == "" || active != roomID {
		return
	}

	roomToken, err := s.lockRoom(ctx, roomID)
	if err != nil {
		logger.Log.Warn("disconnect handling could not lock room",
			zap.String("roomID", roomID), zap.Int64("userID", userID), zap.Error(err))
		return
	}
	defer s.unlockRoom(ctx, roomID, roomToken)

	state, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return
	}
	p := state.Participant(userID)
	if p == nil || state.Status != StatusRunning {
		return
	}

	now := s.clock.Now()
	p.DisconnectedAt = &now
	if err := s.store.SaveRoom(ctx, state); err != nil {
		logger.Log.Warn("failed to record disconnect",
			zap.String("roomID", roomID), zap.Int64("userID", userID), zap.Error(err))
		return
	}
	s.events.PublishRoomState(state)
	go s.watchDisconnect(roomID, state.MatchID, userID)
}

// HandleReconnect clears a pending disconnect flag, disarming the
// forfeit.
func (s *Service) HandleReconnect(ctx context.Context, userID int64, roomID string) {
	active, err := s.store.ActiveRoom(ctx, userID)
	if err != nil || active == "" || active != roomID {
		return
	}

	roomToken, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return
	}
	defer s.unlockRoom(ctx, roomID, roomToken)

	state, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return
	}
	p := state.Participant(userID)
	if p == nil || p.DisconnectedAt == nil {
		return
	}

	p.DisconnectedAt = nil
	if err := s.store.SaveRoom(ctx, state); err != nil {
		logger.Log.Warn("failed to clear disconnect flag",
			zap.String("roomID", roomID), zap.Int64("userID", userID), zap.Error(err))
		return
	}
	s.events.PublishRoomState(state)
}

func (s *Service) watchDisconnect(roomID, matchID string, userID int64) {
	s.clock.Sleep(s.cfg.DisconnectGrace)
	ctx := context.Background()

	roomToken, err := s.lockRoom(ctx, roomID)
	if err != nil {
		logger.Log.Warn("disconnect watcher could not lock room",
			zap.String("roomID", roomID), zap.Error(err))
		return
	}
	defer s.unlockRoom(ctx, roomID, roomToken)

	state, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return
	}
	if state.Status != StatusRunning || state.MatchID != matchID {
		return
	}
	p := state.Participant(userID)
	if p == nil || p.DisconnectedAt == nil {
		// Reconnected inside the grace window.
		return
	}

	if err := s.finishLocked(ctx, state, state.OpponentOf(userID), WinReasonDisconnect); err != nil {
		logger.Log.Error("disconnect forfeit failed",
			zap.String("roomID", roomID), zap.Int64("userID", userID), zap.Error(err))
		return
	}
	if err := s.store.SaveRoom(ctx, state); err != nil {
		logger.Log.Error("disconnect forfeit save failed",
			zap.String("roomID", roomID), zap.Error(err))
		return
	}
	s.afterFinish(ctx, state)
	s.recordDisconnectLoss(ctx, userID)
}

func (s *Service) recordDisconnectLoss(ctx context.Context, userID int64) {
	strikes, err := s.store.DisconnectStrike(ctx, userID, s.cfg.DisconnectStrikeWindow)
	if err != nil {
		logger.Log.Warn("failed to record disconnect strike",
			zap.Int64("userID", userID), zap.Error(err))
		return
	}
	if strikes < s.cfg.DisconnectStrikeLimit {
		return
	}
	if err := s.store.SuspendUser(ctx, userID, s.cfg.DisconnectSuspension); err != nil {
		logger.Log.Warn("failed to suspend user",
			zap.Int64("userID", userID), zap.Error(err))
		return
	}
	logger.Log.Info("user suspended after repeated disconnect losses",
		zap.Int64("userID", userID), zap.Int64("strikes", strikes))
}
