package battle

import (
	"context"
	"strings"

	appErr "arena-service/pkg/errors"
	"arena-service/pkg/logger"

	"go.uber.org/zap"
)

type SubmitRequest struct {
	RoomID     string
	UserID     int64
	SourceCode string
}

// Submit runs one judged attempt. The judge call happens outside the
// room lock; the winner decision is a lock-protected test-and-set, so
// two concurrent accepted submissions yield exactly one winner. The
// slower accepted submission still gets its accepted timestamp
// recorded.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitOutcome, error) {
	if strings.TrimSpace(req.SourceCode) == "" {
		return nil, appErr.ErrEmptySource
	}

	userToken, err := s.lockUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer s.unlockUser(ctx, req.UserID, userToken)

	cmd, err := s.admitSubmission(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := s.judge.Judge(ctx, *cmd)
	if err != nil {
		logger.Log.Warn("judge call failed",
			zap.String("matchID", cmd.MatchID),
			zap.Int64("userID", req.UserID),
			zap.Error(err))
		result = JudgeResult{Accepted: false, Message: "judge unavailable, try again"}
	}

	return s.applyJudgeResult(ctx, req.RoomID, *cmd, result)
}

// admitSubmission validates the attempt under the room lock and stamps
// the cooldown before the (slow) judge call happens unlocked.
func (s *Service) admitSubmission(ctx context.Context, req SubmitRequest) (*JudgeCommand, error) {
	roomToken, err := s.lockRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	defer s.unlockRoom(ctx, req.RoomID, roomToken)

	state, err := s.store.GetRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	p := state.Participant(req.UserID)
	if p == nil {
		return nil, appErr.ErrNotParticipant
	}
	if state.Status != StatusRunning {
		return nil, appErr.ErrNotRunning
	}

	now := s.clock.Now()
	if now.After(state.Deadline()) {
		// Expired while nobody was looking; finish it and reject.
		if err := s.finishLocked(ctx, state, 0, WinReasonTimeout); err != nil {
			return nil, err
		}
		if err := s.store.SaveRoom(ctx, state); err != nil {
			return nil, err
		}
		s.afterFinish(ctx, state)
		return nil, appErr.ErrMatchFinished
	}

	if p.LastSubmittedAt != nil && now.Sub(*p.LastSubmittedAt) < s.cfg.SubmitCooldown {
		return nil, appErr.ErrSubmitCooldown
	}

	p.LastSubmittedAt = &now
	if err := s.store.SaveRoom(ctx, state); err != nil {
		return nil, err
	}

	return &JudgeCommand{
		MatchID:    state.MatchID,
		UserID:     req.UserID,
		ProblemID:  state.ProblemID,
		LanguageID: state.LanguageID,
		SourceCode: req.SourceCode,
	}, nil
}

func (s *Service) applyJudgeResult(ctx context.Context, roomID string, cmd JudgeCommand, result JudgeResult) (*SubmitOutcome, error) {
	roomToken, err := s.lockRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer s.unlockRoom(ctx, roomID, roomToken)

	state, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if state.MatchID != cmd.MatchID {
		return nil, appErr.ErrMatchFinished
	}
	p := state.Participant(cmd.UserID)
	if p == nil {
		return nil, appErr.ErrNotParticipant
	}

	outcome := &SubmitOutcome{
		MatchID:  cmd.MatchID,
		UserID:   cmd.UserID,
		Accepted: result.Accepted,
		Message:  result.Message,
	}
	p.JudgeMessage = result.Message

	if !result.Accepted {
		if err := s.store.SaveRoom(ctx, state); err != nil {
			return nil, err
		}
		s.events.PublishSubmitResult(roomID, *outcome)
		return outcome, nil
	}

	now := s.clock.Now()
	if p.AcAt == nil {
		p.AcAt = &now
		if err := s.recordAc(ctx, state, cmd.UserID, now); err != nil {
			return nil, err
		}
	}
	if state.StartedAt != nil {
		elapsed := p.AcAt.Sub(*state.StartedAt).Milliseconds()
		p.ElapsedMs = &elapsed
		outcome.ElapsedMs = elapsed
	}

	won := state.Status == StatusRunning && state.WinnerUserID == 0
	outcome.Winner = won

	if !won {
		// Opponent already finished it; the accepted timestamp above
		// is all that survives.
		if err := s.store.SaveRoom(ctx, state); err != nil {
			return nil, err
		}
		s.events.PublishSubmitResult(roomID, *outcome)
		return outcome, nil
	}

	if err := s.finishLocked(ctx, state, cmd.UserID, WinReasonFirstAC); err != nil {
		return nil, err
	}
	if err := s.store.SaveRoom(ctx, state); err != nil {
		return nil, err
	}

	s.events.PublishSubmitResult(roomID, *outcome)
	s.afterFinish(ctx, state)
	return outcome, nil
}
