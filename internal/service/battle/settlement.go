package battle

import (
	"context"
	"fmt"

	appErr "arena-service/pkg/errors"
	"arena-service/pkg/logger"

	"go.uber.org/zap"
)

// placeHolds freezes both stakes for the pending match. If the second
// hold fails the first is released again, so a failed ready-up never
// leaves points frozen.
func (s *Service) placeHolds(ctx context.Context, state *RoomState) error {
	if state.BetAmount == 0 {
		return nil
	}
	if err := s.points.HoldBet(ctx, state.MatchID, state.HostUserID, state.BetAmount); err != nil {
		s.events.PublishErrorToUser(state.HostUserID, "could not hold your bet")
		return err
	}
	if err := s.points.HoldBet(ctx, state.MatchID, state.GuestUserID, state.BetAmount); err != nil {
		if _, refundErr := s.points.Refund(ctx, state.MatchID, state.HostUserID, state.BetAmount); refundErr != nil {
			logger.Log.Error("failed to release host hold after guest hold failure",
				zap.String("matchID", state.MatchID), zap.Error(refundErr))
		}
		s.events.PublishErrorToUser(state.GuestUserID, "could not hold your bet")
		return err
	}
	return nil
}

// settleMatch closes the ledger for a finished or abandoned match. It
// is idempotent: settling an already settled match is a no-op. A
// recoverable ledger conflict leaves the match FAILED for the manual
// retry path and keeps the holds untouched.
func (s *Service) settleMatch(ctx context.Context, matchID string) error {
	match, err := s.loadMatch(ctx, matchID)
	if err != nil {
		return err
	}

	switch match.SettlementStatus {
	case SettlementDone:
		return nil
	}

	if match.BetAmount == 0 {
		// Nothing was held, nothing moves.
		return s.setMatchSettlement(ctx, matchID, SettlementDone)
	}
	if match.GuestUserID == nil {
		return fmt.Errorf("match %s has no guest to settle", matchID)
	}

	applied := true
	if match.WinnerUserID != nil && *match.WinnerUserID != 0 {
		loserID := match.HostUserID
		if loserID == *match.WinnerUserID {
			loserID = *match.GuestUserID
		}
		applied, err = s.points.SettleWin(ctx, matchID, *match.WinnerUserID, loserID, match.BetAmount)
		if err != nil {
			return err
		}
	} else {
		for _, userID := range []int64{match.HostUserID, *match.GuestUserID} {
			ok, err := s.points.Refund(ctx, matchID, userID, match.BetAmount)
			if err != nil {
				return err
			}
			applied = applied && ok
		}
	}

	if !applied {
		if err := s.setMatchSettlement(ctx, matchID, SettlementFailed); err != nil {
			return err
		}
		return appErr.ErrSettlementFailed
	}
	return s.setMatchSettlement(ctx, matchID, SettlementDone)
}

// Settle retries settlement for a match whose automatic settlement
// failed. Safe to call any number of times.
func (s *Service) Settle(ctx context.Context, matchID string) error {
	match, err := s.loadMatch(ctx, matchID)
	if err != nil {
		return err
	}
	switch Status(match.Status) {
	case StatusFinished, StatusAbandoned:
		return s.settleMatch(ctx, matchID)
	}
	return appErr.ErrInvalidStatus
}
