package repository

import (
	"context"

	"gorm.io/gorm"

	"codebattle/internal/models"
	"codebattle/internal/storage"
)

type userRepository struct {
	db *storage.PostgresDB
}

func NewUserRepository(db *storage.PostgresDB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	err := translate(r.db.WithContext(ctx).Create(user).Error, ErrUserNotFound)
	if err == ErrDuplicateKey {
		return ErrUsernameTaken
	}
	return err
}

func (r *userRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, translate(err, ErrUserNotFound)
	}
	return &user, nil
}

func (r *userRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, translate(err, ErrUserNotFound)
	}
	return &user, nil
}

func (r *userRepository) FindWithHandle(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).Where("handle <> ''").Order("id").Find(&users).Error
	return users, err
}

func (r *userRepository) UpdateHandle(ctx context.Context, id, handle string) (*models.User, error) {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("handle", handle)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrUserNotFound
	}
	return r.FindByID(ctx, id)
}

func (r *userRepository) AddScore(ctx context.Context, id string, delta int) error {
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		UpdateColumn("score", gorm.Expr("score + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (r *userRepository) SaveStreak(ctx context.Context, id string, streak models.Streak) error {
	res := r.db.WithContext(ctx).
		Model(&models.User{ID: id}).
		Select("streak_current", "streak_longest", "streak_last_solved", "streak_solved_days").
		Updates(&models.User{Streak: streak})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
