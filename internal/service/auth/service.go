package auth

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"arena-service/internal/config"
	"arena-service/internal/model"
	pkgAuth "arena-service/pkg/auth"
	appErr "arena-service/pkg/errors"
	"arena-service/pkg/logger"
	"arena-service/pkg/utils/random"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const signupBonus = 1000

// Rediser is the slice of redis.Client the code store needs.
type Rediser interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type Service struct {
	db      *gorm.DB
	rdb     Rediser
	points  PointGranter
	codeTTL time.Duration
}

// PointGranter credits the signup bonus; the auth service never
// touches the ledger directly.
type PointGranter interface {
	Grant(ctx context.Context, userID int64, amount int64, description string) error
}

type LoginResult struct {
	Token    string     `json:"token"`
	ExpireAt time.Time  `json:"expireAt"`
	User     model.User `json:"user"`
}

func NewService(db *gorm.DB, rdb Rediser, points PointGranter) *Service {
	return &Service{
		db:      db,
		rdb:     rdb,
		points:  points,
		codeTTL: 5 * time.Minute,
	}
}

const testEmailCode = "123456"

// SendEmailCode issues a short-lived verification code for signup. In
// debug mode the code is fixed so local clients need no mailbox.
func (s *Service) SendEmailCode(ctx context.Context, email string) error {
	if !isValidEmail(email) {
		return appErr.ErrInvalidCode
	}
	code := testEmailCode
	if !strings.EqualFold(config.GlobalConfig.Server.Mode, "debug") {
		code = random.Numeric(6)
	}

	key := buildEmailCodeKey(email)
	if err := s.rdb.Set(ctx, key, code, s.codeTTL).Err(); err != nil {
		return err
	}
	logger.Log.Info("email verification code generated",
		zap.String("email", maskEmail(email)),
		zap.Bool("testCode", strings.EqualFold(config.GlobalConfig.Server.Mode, "debug")),
	)
	return nil
}

// VerifyEmailCode checks a code without consuming it; the same code
// still works for the subsequent Register call.
func (s *Service) VerifyEmailCode(ctx context.Context, email, code string) error {
	stored, err := s.rdb.Get(ctx, buildEmailCodeKey(email)).Result()
	if err != nil {
		if err == redis.Nil {
			return appErr.ErrInvalidCode
		}
		return err
	}
	if stored != code {
		return appErr.ErrInvalidCode
	}
	return nil
}

type RegisterRequest struct {
	Email    string
	Nickname string
	Password string
	Code     string
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*LoginResult, error) {
	if !isValidEmail(req.Email) || strings.TrimSpace(req.Nickname) == "" || len(req.Password) < 8 {
		return nil, appErr.ErrInvalidCredentials
	}

	key := buildEmailCodeKey(req.Email)
	stored, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, appErr.ErrInvalidCode
		}
		return nil, err
	}
	if stored != req.Code {
		return nil, appErr.ErrInvalidCode
	}
	s.rdb.Del(ctx, key)

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := model.User{
		Email:        strings.ToLower(req.Email),
		Nickname:     strings.TrimSpace(req.Nickname),
		PasswordHash: string(hashed),
		Status:       "normal",
		Grade:        "BRONZE",
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, appErr.ErrEmailTaken
		}
		return nil, err
	}

	if err := s.points.Grant(ctx, user.ID, signupBonus, "signup bonus"); err != nil {
		logger.Log.Error("failed to grant signup bonus",
			zap.Int64("userID", user.ID), zap.Error(err))
	}

	return s.loginResult(user)
}

func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, appErr.ErrInvalidCredentials
	}

	var user model.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(email)).First(&user).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, appErr.ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, appErr.ErrInvalidCredentials
	}
	if strings.EqualFold(user.Status, "banned") {
		return nil, appErr.ErrInvalidCredentials
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&user).Update("last_login_at", now).Error; err != nil {
		logger.Log.Warn("failed to record login time", zap.Int64("userID", user.ID), zap.Error(err))
	}

	return s.loginResult(user)
}

func (s *Service) loginResult(user model.User) (*LoginResult, error) {
	token, err := pkgAuth.GenerateToken(user.ID)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	expireAt := time.Now().Add(time.Duration(config.GlobalConfig.JWT.Expire) * time.Hour)
	return &LoginResult{
		Token:    token,
		ExpireAt: expireAt,
		User:     user,
	}, nil
}

func isValidEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}

func maskEmail(email string) string {
	at := strings.Index(email, "@")
	if at <= 1 {
		return "***"
	}
	return fmt.Sprintf("%c***%s", email[0], email[at:])
}

func buildEmailCodeKey(email string) string {
	return fmt.Sprintf("auth:email:code:%s", strings.ToLower(email))
}
