package service

import (
	"context"
	"log/slog"
	"sync"

	"codebattle/internal/models"
	"codebattle/internal/repository"
)

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// StreakService owns every write to a user's streak. Updates for the same
// user are serialized; different users proceed in parallel.
type StreakService struct {
	users  repository.UserRepository
	locks  keyedMutex
	logger *slog.Logger
}

func NewStreakService(users repository.UserRepository, logger *slog.Logger) *StreakService {
	return &StreakService{
		users:  users,
		logger: logger.With("component", "streaks"),
	}
}

// RecordDay registers a solve by userID on day (YYYY-MM-DD).
func (s *StreakService) RecordDay(ctx context.Context, userID, day string) (models.Streak, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return models.Streak{}, err
	}

	streak := user.Streak.Clone()
	if !streak.Record(day) {
		return streak, nil
	}
	if err := s.users.SaveStreak(ctx, userID, streak); err != nil {
		return models.Streak{}, err
	}

	s.logger.Debug("streak updated", "user_id", userID, "day", day, "current", streak.Current, "longest", streak.Longest)
	return streak, nil
}
