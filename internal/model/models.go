package model

import (
	"time"

	"gorm.io/datatypes"
)

// 2.1 User & Account

type User struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Email        string `gorm:"unique;not null"`
	Nickname     string `gorm:"size:32;unique;not null"`
	PasswordHash string `gorm:"not null"`
	Level        int    `gorm:"default:1"`
	Grade        string `gorm:"default:BRONZE;not null"` // BRONZE/SILVER/GOLD/PLATINUM
	Subscriber   bool   `gorm:"default:false"`
	Status       string `gorm:"default:normal;not null"` // normal/banned
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// 2.2 Points & Ledger

type UserPoint struct {
	UserID    int64 `gorm:"primaryKey"`
	Balance   int64
	TotalWin  int64
	TotalLose int64
	UpdatedAt time.Time
}

type PointHistory struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	UserID       int64  `gorm:"index"`
	Type         string // battle_hold/battle_reward/battle_refund/platform_income/adjust
	ChangeAmount int64
	BalanceAfter int64
	MatchID      *string `gorm:"size:36;index"`
	Description  string  `gorm:"size:255"`
	CreatedAt    time.Time
}

// PointHold freezes a participant's stake for one match. At most one
// hold exists per (match, user), and its status moves HELD -> SETTLED
// or HELD -> REFUNDED exactly once.
type PointHold struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	MatchID        string `gorm:"size:36;uniqueIndex:idx_hold_match_user"`
	UserID         int64  `gorm:"uniqueIndex:idx_hold_match_user"`
	Amount         int64
	Status         string `gorm:"default:HELD;not null"` // HELD/SETTLED/REFUNDED
	PointHistoryID int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// 2.3 Match & Problems

type Match struct {
	MatchID            string `gorm:"primaryKey;size:36"`
	Status             string `gorm:"default:WAITING;not null"`
	HostUserID         int64  `gorm:"index"`
	GuestUserID        *int64 `gorm:"index"`
	AlgoProblemID      int64
	LanguageID         int64
	RoomTitle          string `gorm:"size:50"`
	BetAmount          int64
	MaxDurationMinutes int
	CountdownStartedAt *time.Time
	StartedAt          *time.Time
	FinishedAt         *time.Time
	HostAcAt           *time.Time
	GuestAcAt          *time.Time
	WinnerUserID       *int64
	WinReason          string `gorm:"size:20"` // FIRST_AC/SURRENDER/LEAVE/TIMEOUT
	WinnerElapsedMs    *int64
	SettlementStatus   string         `gorm:"default:NONE;not null"` // NONE/PENDING/DONE/FAILED
	ResultJSON         datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type AlgoProblem struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	Title      string `gorm:"size:128"`
	Difficulty string `gorm:"size:16"` // BRONZE/SILVER/GOLD/PLATINUM
	Status     string `gorm:"default:enabled"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
