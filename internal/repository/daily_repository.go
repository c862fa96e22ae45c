package repository

import (
	"context"

	"codebattle/internal/models"
	"codebattle/internal/storage"
)

type dailyRepository struct {
	db *storage.PostgresDB
}

func NewDailyRepository(db *storage.PostgresDB) DailyRepository {
	return &dailyRepository{db: db}
}

func (r *dailyRepository) Create(ctx context.Context, set *models.DailySet) error {
	return translate(r.db.WithContext(ctx).Create(set).Error, ErrDailyNotFound)
}

func (r *dailyRepository) FindByDay(ctx context.Context, day string) (*models.DailySet, error) {
	var set models.DailySet
	if err := r.db.WithContext(ctx).First(&set, "day = ?", day).Error; err != nil {
		return nil, translate(err, ErrDailyNotFound)
	}
	return &set, nil
}

func (r *dailyRepository) FindSince(ctx context.Context, day string) ([]models.DailySet, error) {
	var sets []models.DailySet
	err := r.db.WithContext(ctx).Where("day >= ?", day).Order("day ASC").Find(&sets).Error
	return sets, err
}

func (r *dailyRepository) RecordSolve(ctx context.Context, solve *models.DailySolve) (bool, error) {
	err := translate(r.db.WithContext(ctx).Create(solve).Error, ErrDailyNotFound)
	if err == ErrDuplicateKey {
		return false, nil
	}
	return err == nil, err
}

func (r *dailyRepository) FindSolves(ctx context.Context, day string) ([]models.DailySolve, error) {
	var solves []models.DailySolve
	err := r.db.WithContext(ctx).Where("day = ?", day).Find(&solves).Error
	return solves, err
}

func (r *dailyRepository) FindUserSolves(ctx context.Context, day, userID string) ([]models.DailySolve, error) {
	var solves []models.DailySolve
	err := r.db.WithContext(ctx).
		Where("day = ? AND user_id = ?", day, userID).
		Order("problem_index ASC").
		Find(&solves).Error
	return solves, err
}
