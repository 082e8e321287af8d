package problem

import (
	"context"
	"errors"

	"arena-service/internal/model"
	appErr "arena-service/pkg/errors"

	"gorm.io/gorm"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// RandomProblemID picks one enabled problem at random. The catalog is
// small enough that ORDER BY RANDOM() is fine.
func (s *Service) RandomProblemID(ctx context.Context) (int64, error) {
	var problem model.AlgoProblem
	err := s.db.WithContext(ctx).
		Where("status = ?", "enabled").
		Order("RANDOM()").
		First(&problem).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, appErr.ErrInvalidProblem
		}
		return 0, err
	}
	return problem.ID, nil
}

func (s *Service) ProblemExists(ctx context.Context, problemID int64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.AlgoProblem{}).
		Where("id = ? AND status = ?", problemID, "enabled").
		Count(&count).Error
	return count > 0, err
}

// ProblemDifficulty returns the difficulty tier of a problem, used to
// derive the default match duration.
func (s *Service) ProblemDifficulty(ctx context.Context, problemID int64) (string, error) {
	var problem model.AlgoProblem
	err := s.db.WithContext(ctx).
		Select("difficulty").
		First(&problem, problemID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", appErr.ErrInvalidProblem
		}
		return "", err
	}
	return problem.Difficulty, nil
}

func (s *Service) Get(ctx context.Context, problemID int64) (*model.AlgoProblem, error) {
	var problem model.AlgoProblem
	err := s.db.WithContext(ctx).First(&problem, problemID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrInvalidProblem
		}
		return nil, err
	}
	return &problem, nil
}

func (s *Service) List(ctx context.Context) ([]model.AlgoProblem, error) {
	var problems []model.AlgoProblem
	err := s.db.WithContext(ctx).
		Where("status = ?", "enabled").
		Order("id").
		Find(&problems).Error
	return problems, err
}
