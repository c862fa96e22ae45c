package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"codebattle/internal/models"
	"codebattle/internal/repository"
)

type UserRepository struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[string]*models.User)}
}

func cloneUser(u *models.User) *models.User {
	c := *u
	c.Streak = u.Streak.Clone()
	return &c
}

func (r *UserRepository) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; ok {
		return repository.ErrDuplicateKey
	}
	for _, u := range r.users {
		if u.Username == user.Username {
			return repository.ErrUsernameTaken
		}
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = cloneUser(user)
	return nil
}

func (r *UserRepository) FindByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (r *UserRepository) FindByUsername(_ context.Context, username string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Username == username {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *UserRepository) FindWithHandle(context.Context) ([]models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var users []models.User
	for _, u := range r.users {
		if u.Handle != "" {
			users = append(users, *cloneUser(u))
		}
	}
	slices.SortFunc(users, func(a, b models.User) int { return strings.Compare(a.ID, b.ID) })
	return users, nil
}

func (r *UserRepository) update(id string, fn func(u *models.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now()
	return nil
}

func (r *UserRepository) UpdateHandle(ctx context.Context, id, handle string) (*models.User, error) {
	if err := r.update(id, func(u *models.User) { u.Handle = handle }); err != nil {
		return nil, err
	}
	return r.FindByID(ctx, id)
}

func (r *UserRepository) AddScore(_ context.Context, id string, delta int) error {
	return r.update(id, func(u *models.User) { u.Score += delta })
}

func (r *UserRepository) SaveStreak(_ context.Context, id string, streak models.Streak) error {
	return r.update(id, func(u *models.User) { u.Streak = streak.Clone() })
}
