package user

import (
	"context"
	"errors"
	"strings"

	"arena-service/internal/model"
	"arena-service/internal/service/battle"
	appErr "arena-service/pkg/errors"

	"gorm.io/gorm"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// FindProfile satisfies the battle service's user port.
func (s *Service) FindProfile(ctx context.Context, userID int64) (*battle.Profile, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &battle.Profile{
		UserID:   user.ID,
		Nickname: user.Nickname,
	}, nil
}

func (s *Service) Get(ctx context.Context, userID int64) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrUserNotFound
		}
		return nil, err
	}
	user.PasswordHash = ""
	return &user, nil
}

func (s *Service) IsSubscriber(ctx context.Context, userID int64) (bool, error) {
	var user model.User
	err := s.db.WithContext(ctx).Select("subscriber").First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, appErr.ErrUserNotFound
		}
		return false, err
	}
	return user.Subscriber, nil
}

type UpdateProfileRequest struct {
	Nickname *string
}

func (s *Service) UpdateProfile(ctx context.Context, userID int64, req UpdateProfileRequest) (*model.User, error) {
	updates := map[string]interface{}{}
	if req.Nickname != nil {
		nickname := strings.TrimSpace(*req.Nickname)
		if nickname == "" || len([]rune(nickname)) > 32 {
			return nil, appErr.ErrNicknameTaken
		}
		updates["nickname"] = nickname
	}
	if len(updates) == 0 {
		return s.Get(ctx, userID)
	}
	err := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Updates(updates).Error
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, appErr.ErrNicknameTaken
		}
		return nil, err
	}
	return s.Get(ctx, userID)
}
