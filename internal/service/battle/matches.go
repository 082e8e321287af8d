package battle

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"arena-service/internal/model"
	appErr "arena-service/pkg/errors"

	"gorm.io/gorm"
)

func (s *Service) loadMatch(ctx context.Context, matchID string) (*model.Match, error) {
	var match model.Match
	err := s.db.WithContext(ctx).First(&match, "match_id = ?", matchID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrMatchNotFound
		}
		return nil, err
	}
	return &match, nil
}

func (s *Service) createMatchRecord(ctx context.Context, state *RoomState, now time.Time) error {
	guestID := state.GuestUserID
	match := model.Match{
		MatchID:            state.MatchID,
		Status:             string(StatusCountdown),
		HostUserID:         state.HostUserID,
		GuestUserID:        &guestID,
		AlgoProblemID:      state.ProblemID,
		LanguageID:         state.LanguageID,
		RoomTitle:          state.Title,
		BetAmount:          state.BetAmount,
		MaxDurationMinutes: state.MaxDurationMinutes,
		CountdownStartedAt: &now,
		SettlementStatus:   SettlementNone,
	}
	return s.db.WithContext(ctx).Create(&match).Error
}

func (s *Service) markMatchRunning(ctx context.Context, matchID string, startedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&model.Match{}).
		Where("match_id = ?", matchID).
		Updates(map[string]interface{}{
			"status":     string(StatusRunning),
			"started_at": startedAt,
		}).Error
}

func (s *Service) markMatchAbandoned(ctx context.Context, matchID string) error {
	return s.db.WithContext(ctx).Model(&model.Match{}).
		Where("match_id = ?", matchID).
		Update("status", string(StatusAbandoned)).Error
}

func (s *Service) markMatchFinished(ctx context.Context, state *RoomState) error {
	updates := map[string]interface{}{
		"status":      string(StatusFinished),
		"finished_at": state.FinishedAt,
		"win_reason":  state.WinReason,
	}
	if state.WinnerUserID != 0 {
		updates["winner_user_id"] = state.WinnerUserID
		if winner := state.Participant(state.WinnerUserID); winner != nil && winner.ElapsedMs != nil {
			updates["winner_elapsed_ms"] = *winner.ElapsedMs
		}
	}
	if snapshot, err := json.Marshal(state.Participants); err == nil {
		updates["result_json"] = snapshot
	}
	return s.db.WithContext(ctx).Model(&model.Match{}).
		Where("match_id = ?", state.MatchID).
		Updates(updates).Error
}

// recordAc stamps the participant's first accepted submission on the
// match row. First write wins; later accepts never move it.
func (s *Service) recordAc(ctx context.Context, state *RoomState, userID int64, at time.Time) error {
	column := ""
	switch userID {
	case state.HostUserID:
		column = "host_ac_at"
	case state.GuestUserID:
		column = "guest_ac_at"
	default:
		return appErr.ErrNotParticipant
	}
	return s.db.WithContext(ctx).Model(&model.Match{}).
		Where("match_id = ? AND "+column+" IS NULL", state.MatchID).
		Update(column, at).Error
}

func (s *Service) setMatchSettlement(ctx context.Context, matchID, status string) error {
	return s.db.WithContext(ctx).Model(&model.Match{}).
		Where("match_id = ?", matchID).
		Update("settlement_status", status).Error
}

// staleCountdownMatches returns matches stuck in COUNTDOWN longer than
// the countdown plus the recovery grace period.
func (s *Service) staleCountdownMatches(ctx context.Context, cutoff time.Time) ([]model.Match, error) {
	var matches []model.Match
	err := s.db.WithContext(ctx).
		Where("status = ? AND countdown_started_at < ?", string(StatusCountdown), cutoff).
		Find(&matches).Error
	return matches, err
}

func (s *Service) runningMatches(ctx context.Context) ([]model.Match, error) {
	var matches []model.Match
	err := s.db.WithContext(ctx).
		Where("status = ?", string(StatusRunning)).
		Find(&matches).Error
	return matches, err
}
