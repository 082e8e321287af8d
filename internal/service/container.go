package service

import (
	"context"
	"time"

	"arena-service/internal/config"
	"arena-service/internal/service/auth"
	"arena-service/internal/service/battle"
	"arena-service/internal/service/judge"
	"arena-service/internal/service/point"
	"arena-service/internal/service/problem"
	"arena-service/internal/service/ratelimit"
	"arena-service/internal/service/user"
	"arena-service/pkg/lock"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	Auth      *auth.Service
	User      *user.Service
	Point     *point.Service
	Problem   *problem.Service
	Battle    *battle.Service
	RateLimit *ratelimit.Service
}

func NewContainer(db *gorm.DB, rdb *redis.Client) *Container {
	cfg := config.GlobalConfig
	clk := clockwork.NewRealClock()

	points := point.NewService(db, cfg.Battle.RakeRatio)
	users := user.NewService(db)
	problems := problem.NewService(db)

	locks := lock.NewManager(rdb,
		time.Duration(cfg.Battle.LockTTLSeconds)*time.Second,
		cfg.Battle.LockRetries,
		time.Duration(cfg.Battle.LockRetryDelayMs)*time.Millisecond,
	)

	var judgePort battle.JudgePort
	if cfg.Judge.UseStub {
		judgePort = judge.Stub{}
	} else {
		judgePort = judge.NewService(cfg.Judge.Endpoint,
			time.Duration(cfg.Judge.TimeoutSeconds)*time.Second)
	}

	battleCfg := battle.DefaultConfig()
	battleCfg.RakeRatio = cfg.Battle.RakeRatio
	if cfg.Battle.MaxBetAmount > 0 {
		battleCfg.MaxBetAmount = cfg.Battle.MaxBetAmount
	}
	if cfg.Battle.CountdownSeconds > 0 {
		battleCfg.CountdownSeconds = cfg.Battle.CountdownSeconds
	}
	if cfg.Battle.SubmitCooldownSeconds > 0 {
		battleCfg.SubmitCooldown = time.Duration(cfg.Battle.SubmitCooldownSeconds) * time.Second
	}
	if cfg.Battle.PostGameSeconds > 0 {
		battleCfg.PostGameHold = time.Duration(cfg.Battle.PostGameSeconds) * time.Second
	}
	if cfg.Battle.CountdownGraceSeconds > 0 {
		battleCfg.CountdownGrace = time.Duration(cfg.Battle.CountdownGraceSeconds) * time.Second
	}
	if cfg.Battle.SweepIntervalSeconds > 0 {
		battleCfg.SweepInterval = time.Duration(cfg.Battle.SweepIntervalSeconds) * time.Second
	}
	if cfg.Battle.DisconnectGraceSeconds > 0 {
		battleCfg.DisconnectGrace = time.Duration(cfg.Battle.DisconnectGraceSeconds) * time.Second
	}
	if cfg.Battle.DisconnectStrikeLimit > 0 {
		battleCfg.DisconnectStrikeLimit = int64(cfg.Battle.DisconnectStrikeLimit)
	}
	if cfg.Battle.DisconnectSuspensionMinutes > 0 {
		battleCfg.DisconnectSuspension = time.Duration(cfg.Battle.DisconnectSuspensionMinutes) * time.Minute
	}

	battleSvc := battle.NewService(db,
		battle.NewRedisRoomStore(rdb),
		locks, points, judgePort, users, problems, clk, battleCfg)

	return &Container{
		Auth:      auth.NewService(db, rdb, points),
		User:      users,
		Point:     points,
		Problem:   problems,
		Battle:    battleSvc,
		RateLimit: ratelimit.NewService(rdb, cfg.RateLimit.FreeDailyLimit, clk),
	}
}

func (c *Container) Start(ctx context.Context) error {
	return c.Battle.Start(ctx)
}
