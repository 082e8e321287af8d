package point

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"arena-service/internal/model"
	appErr "arena-service/pkg/errors"
	"arena-service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	HoldHeld     = "HELD"
	HoldSettled  = "SETTLED"
	HoldRefunded = "REFUNDED"
)

const (
	typeHold           = "battle_hold"
	typeReward         = "battle_reward"
	typeRefund         = "battle_refund"
	typePlatformIncome = "platform_income"
	typeAdjust         = "adjust"
)

// platformUserID owns the rake income rows in the ledger.
const platformUserID = 0

type Service struct {
	db        *gorm.DB
	rakeRatio float64
}

func NewService(db *gorm.DB, rakeRatio float64) *Service {
	if rakeRatio < 0 || rakeRatio >= 1 {
		rakeRatio = 0
	}
	return &Service{db: db, rakeRatio: rakeRatio}
}

// HoldBet freezes amount points for one participant of a match. It is
// idempotent per (match, user): re-holding an already held stake is a
// no-op, re-holding a settled or refunded one is a conflict.
func (s *Service) HoldBet(ctx context.Context, matchID string, userID int64, amount int64) error {
	if amount <= 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var hold model.PointHold
		err := tx.Where("match_id = ? AND user_id = ?", matchID, userID).First(&hold).Error
		if err == nil {
			switch hold.Status {
			case HoldHeld:
				return nil
			default:
				return appErr.ErrHoldConflict
			}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := s.ensureAccount(tx, userID); err != nil {
			return err
		}

		res := tx.Model(&model.UserPoint{}).
			Where("user_id = ? AND balance >= ?", userID, amount).
			UpdateColumn("balance", gorm.Expr("balance - ?", amount))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return appErr.ErrInsufficientPoints
		}

		history, err := s.appendHistory(tx, userID, typeHold, -amount, matchID,
			fmt.Sprintf("bet held for match %s", matchID))
		if err != nil {
			return err
		}

		return tx.Create(&model.PointHold{
			MatchID:        matchID,
			UserID:         userID,
			Amount:         amount,
			Status:         HoldHeld,
			PointHistoryID: history.ID,
		}).Error
	})
}

// SettleWin moves both held stakes to the winner, minus the rake. The
// boolean reports whether the pot was (or already had been) paid out;
// false with a nil error is a recoverable conflict and leaves every
// hold exactly as it was.
func (s *Service) SettleWin(ctx context.Context, matchID string, winnerID, loserID int64, amount int64) (bool, error) {
	if amount <= 0 {
		return false, nil
	}
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		winnerHold, err := s.findHold(tx, matchID, winnerID)
		if err != nil {
			return err
		}
		loserHold, err := s.findHold(tx, matchID, loserID)
		if err != nil {
			return err
		}
		if winnerHold == nil || loserHold == nil {
			logger.Log.Warn("settle: hold missing",
				zap.String("matchID", matchID),
				zap.Bool("winnerHold", winnerHold != nil),
				zap.Bool("loserHold", loserHold != nil))
			return nil
		}
		if winnerHold.Status == HoldSettled && loserHold.Status == HoldSettled {
			applied = true
			return nil
		}
		if winnerHold.Status != HoldHeld || loserHold.Status != HoldHeld {
			// One side already left HELD some other way; nothing safe
			// to do here.
			return nil
		}

		if ok, err := s.transitionHold(tx, matchID, winnerID, HoldSettled); err != nil || !ok {
			return err
		}
		if ok, err := s.transitionHold(tx, matchID, loserID, HoldSettled); err != nil {
			return err
		} else if !ok {
			return appErr.ErrHoldConflict
		}

		pot := 2 * amount
		rake := s.rakeFor(pot)
		payout := pot - rake

		if err := s.ensureAccount(tx, winnerID); err != nil {
			return err
		}
		if err := tx.Model(&model.UserPoint{}).
			Where("user_id = ?", winnerID).
			Updates(map[string]interface{}{
				"balance":   gorm.Expr("balance + ?", payout),
				"total_win": gorm.Expr("total_win + ?", payout),
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.UserPoint{}).
			Where("user_id = ?", loserID).
			UpdateColumn("total_lose", gorm.Expr("total_lose + ?", amount)).Error; err != nil {
			return err
		}

		if _, err := s.appendHistory(tx, winnerID, typeReward, payout, matchID,
			fmt.Sprintf("match %s won", matchID)); err != nil {
			return err
		}
		if rake > 0 {
			if _, err := s.appendHistory(tx, platformUserID, typePlatformIncome, rake, matchID,
				fmt.Sprintf("rake for match %s", matchID)); err != nil {
				return err
			}
		}

		applied = true
		return nil
	})
	if err != nil {
		if errors.Is(err, appErr.ErrHoldConflict) {
			return false, nil
		}
		return false, err
	}
	return applied, nil
}

// Refund releases one participant's hold back to their balance. An
// already refunded hold reports success; a settled one reports a
// conflict (false, nil).
func (s *Service) Refund(ctx context.Context, matchID string, userID int64, amount int64) (bool, error) {
	if amount <= 0 {
		return false, nil
	}
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		hold, err := s.findHold(tx, matchID, userID)
		if err != nil {
			return err
		}
		if hold == nil {
			return nil
		}
		switch hold.Status {
		case HoldRefunded:
			applied = true
			return nil
		case HoldSettled:
			return nil
		}

		if ok, err := s.transitionHold(tx, matchID, userID, HoldRefunded); err != nil || !ok {
			return err
		}

		if err := tx.Model(&model.UserPoint{}).
			Where("user_id = ?", userID).
			UpdateColumn("balance", gorm.Expr("balance + ?", hold.Amount)).Error; err != nil {
			return err
		}
		if _, err := s.appendHistory(tx, userID, typeRefund, hold.Amount, matchID,
			fmt.Sprintf("bet refunded for match %s", matchID)); err != nil {
			return err
		}

		applied = true
		return nil
	})
	return applied, err
}

func (s *Service) HoldHeld(ctx context.Context, matchID string, userID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.PointHold{}).
		Where("match_id = ? AND user_id = ? AND status = ?", matchID, userID, HoldHeld).
		Count(&count).Error
	return count > 0, err
}

func (s *Service) Balance(ctx context.Context, userID int64) (int64, error) {
	var account model.UserPoint
	err := s.db.WithContext(ctx).First(&account, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Grant credits points outside of match settlement (signup bonus,
// operator adjustments).
func (s *Service) Grant(ctx context.Context, userID int64, amount int64, description string) error {
	if amount <= 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureAccount(tx, userID); err != nil {
			return err
		}
		if err := tx.Model(&model.UserPoint{}).
			Where("user_id = ?", userID).
			UpdateColumn("balance", gorm.Expr("balance + ?", amount)).Error; err != nil {
			return err
		}
		_, err := s.appendHistory(tx, userID, typeAdjust, amount, "", description)
		return err
	})
}

func (s *Service) History(ctx context.Context, userID int64, limit int) ([]model.PointHistory, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var rows []model.PointHistory
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (s *Service) ensureAccount(tx *gorm.DB, userID int64) error {
	return tx.Where(model.UserPoint{UserID: userID}).
		FirstOrCreate(&model.UserPoint{UserID: userID}).Error
}

func (s *Service) findHold(tx *gorm.DB, matchID string, userID int64) (*model.PointHold, error) {
	var hold model.PointHold
	err := tx.Where("match_id = ? AND user_id = ?", matchID, userID).First(&hold).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hold, nil
}

// transitionHold is the guarded HELD -> target update. A zero row
// count means somebody else moved the hold first.
func (s *Service) transitionHold(tx *gorm.DB, matchID string, userID int64, target string) (bool, error) {
	res := tx.Model(&model.PointHold{}).
		Where("match_id = ? AND user_id = ? AND status = ?", matchID, userID, HoldHeld).
		Update("status", target)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Service) appendHistory(tx *gorm.DB, userID int64, historyType string, delta int64, matchID, description string) (*model.PointHistory, error) {
	var balanceAfter int64
	if userID != platformUserID {
		var account model.UserPoint
		if err := tx.First(&account, "user_id = ?", userID).Error; err == nil {
			balanceAfter = account.Balance
		}
	}
	history := model.PointHistory{
		UserID:       userID,
		Type:         historyType,
		ChangeAmount: delta,
		BalanceAfter: balanceAfter,
		Description:  description,
		CreatedAt:    time.Now(),
	}
	if matchID != "" {
		history.MatchID = &matchID
	}
	if err := tx.Create(&history).Error; err != nil {
		return nil, err
	}
	return &history, nil
}

func (s *Service) rakeFor(pot int64) int64 {
	if s.rakeRatio <= 0 {
		return 0
	}
	return int64(math.Floor(float64(pot) * s.rakeRatio))
}
