package battle

import (
	"context"
	"time"

	"arena-service/pkg/logger"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Start launches the periodic recovery sweep. Countdown timers and
// deadline watchers live in process memory; the sweep is what picks up
// matches orphaned by a restart.
func (s *Service) Start(ctx context.Context) error {
	s.startOnce.Do(func() {
		sched, err := gocron.NewScheduler(gocron.WithClock(s.clock))
		if err != nil {
			s.startErr = err
			return
		}
		_, err = sched.NewJob(
			gocron.DurationJob(s.cfg.SweepInterval),
			gocron.NewTask(func() {
				s.sweep(context.Background())
			}),
		)
		if err != nil {
			s.startErr = err
			return
		}
		sched.Start()
		go func() {
			<-ctx.Done()
			if err := sched.Shutdown(); err != nil {
				logger.Log.Warn("sweeper shutdown failed", zap.Error(err))
			}
		}()
	})
	return s.startErr
}

func (s *Service) sweep(ctx context.Context) {
	s.sweepStaleCountdowns(ctx)
	s.sweepExpiredMatches(ctx)
}

// sweepStaleCountdowns reverts rooms whose countdown never completed,
// refunding the held stakes.
func (s *Service) sweepStaleCountdowns(ctx context.Context) {
	grace := time.Duration(s.cfg.CountdownSeconds)*time.Second + s.cfg.CountdownGrace
	cutoff := s.clock.Now().Add(-grace)
	matches, err := s.staleCountdownMatches(ctx, cutoff)
	if err != nil {
		logger.Log.Error("sweep: failed to list stale countdowns", zap.Error(err))
		return
	}
	for _, match := range matches {
		s.recoverCountdown(ctx, match.MatchID)
	}
}

func (s *Service) recoverCountdown(ctx context.Context, matchID string) {
	roomID, err := s.store.MatchRoom(ctx, matchID)
	if err != nil {
		logger.Log.Error("sweep: match room lookup failed",
			zap.String("matchID", matchID), zap.Error(err))
		return
	}
	if roomID == "" {
		// Room state is gone; abandon the match and refund directly.
		if err := s.markMatchAbandoned(ctx, matchID); err != nil {
			logger.Log.Error("sweep: failed to abandon match",
				zap.String("matchID", matchID), zap.Error(err))
			return
		}
		if err := s.settleMatch(ctx, matchID); err != nil {
			logger.Log.Error("sweep: refund failed",
				zap.String("matchID", matchID), zap.Error(err))
		}
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
	if state.Status != StatusCountdown || state.MatchID != matchID {
		return
	}
	if err := s.abortToWaitingLocked(ctx, state); err != nil {
		logger.Log.Error("sweep: countdown recovery failed",
			zap.String("roomID", roomID), zap.Error(err))
		return
	}
	logger.Log.Info("recovered stuck countdown",
		zap.String("roomID", roomID), zap.String("matchID", matchID))
}

// sweepExpiredMatches times out running matches whose deadline passed,
// including ones whose in-memory deadline watcher died with a previous
// process.
func (s *Service) sweepExpiredMatches(ctx context.Context) {
	matches, err := s.runningMatches(ctx)
	if err != nil {
		logger.Log.Error("sweep: failed to list running matches", zap.Error(err))
		return
	}
	now := s.clock.Now()
	for _, match := range matches {
		if match.StartedAt == nil {
			continue
		}
		deadline := match.StartedAt.Add(time.Duration(match.MaxDurationMinutes) * time.Minute)
		if now.Before(deadline) {
			continue
		}
		roomID, err := s.store.MatchRoom(ctx, match.MatchID)
		if err != nil || roomID == "" {
			s.timeoutOrphanedMatch(ctx, match.MatchID)
			continue
		}
		if err := s.FinishByTimeout(ctx, roomID, match.MatchID); err != nil {
			logger.Log.Debug("sweep: timeout skipped",
				zap.String("matchID", match.MatchID), zap.Error(err))
		}
	}
}

// timeoutOrphanedMatch closes a running match whose room state was
// lost. Both stakes go back to their owners.
func (s *Service) timeoutOrphanedMatch(ctx context.Context, matchID string) {
	err := s.db.WithContext(ctx).Exec(
		"UPDATE matches SET status = ?, win_reason = ?, finished_at = ? WHERE match_id = ? AND status = ?",
		string(StatusFinished), WinReasonTimeout, s.clock.Now(), matchID, string(StatusRunning),
	).Error
	if err != nil {
		logger.Log.Error("sweep: failed to time out orphaned match",
			zap.String("matchID", matchID), zap.Error(err))
		return
	}
	if err := s.settleMatch(ctx, matchID); err != nil {
		logger.Log.Error("sweep: orphaned match refund failed",
			zap.String("matchID", matchID), zap.Error(err))
	}
}
