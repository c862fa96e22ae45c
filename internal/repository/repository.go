package repository

import (
	"context"
	"errors"
	"time"

	"codebattle/internal/apperr"
	"codebattle/internal/models"
	"codebattle/internal/storage"
)

// ErrDuplicateKey is returned by Create methods when the primary key is taken.
var ErrDuplicateKey = errors.New("duplicate key")

var (
	ErrRoomNotFound  = apperr.NotFound("room not found")
	ErrUserNotFound  = apperr.NotFound("user not found")
	ErrDailyNotFound = apperr.NotFound("no problem set for this day")
	ErrNotMember     = apperr.NotFound("user is not in this room")
	ErrRoomFull      = apperr.Conflict("room is full")
	ErrRoomNotFull   = apperr.Conflict("room is not full")
	ErrNotWaiting    = apperr.Conflict("battle has already started")
	ErrAlreadyMember = apperr.Conflict("user is already in this room")
	ErrUsernameTaken = apperr.Conflict("username is already taken")
	ErrModeTooSmall  = apperr.Conflict("room has more players than the new mode allows")
)

// RoomPatch holds the room settings a host may change while waiting.
type RoomPatch struct {
	Mode          *models.Mode
	Duration      *int
	ProblemRating *int
	Topics        *[]string
}

// Apply writes the set fields of p onto room.
func (p RoomPatch) Apply(room *models.Room) {
	if p.Mode != nil {
		room.Mode = *p.Mode
	}
	if p.Duration != nil {
		room.Duration = *p.Duration
	}
	if p.ProblemRating != nil {
		room.ProblemRating = *p.ProblemRating
	}
	if p.Topics != nil {
		room.Topics = *p.Topics
	}
}

// RoomRepository persists rooms. Every mutation is atomic with respect to the
// room's capacity, membership uniqueness and status.
type RoomRepository interface {
	Create(ctx context.Context, room *models.Room) error
	FindByID(ctx context.Context, roomID string) (*models.Room, error)
	FindAll(ctx context.Context) ([]models.Room, error) // newest first
	FindByStatus(ctx context.Context, status models.RoomStatus) ([]models.Room, error)
	FindByMember(ctx context.Context, userID string) ([]models.Room, error)
	AddMember(ctx context.Context, roomID string, member models.Member) (*models.Room, error)
	RemoveMember(ctx context.Context, roomID, userID string) (*models.Room, error)
	Update(ctx context.Context, roomID string, patch RoomPatch) (*models.Room, error)
	// Activate moves a full waiting room to active.
	Activate(ctx context.Context, roomID string, problem models.Problem, start, end time.Time) (*models.Room, error)
	// Finalize moves an active room to a terminal status. It returns false
	// when the room is no longer active.
	Finalize(ctx context.Context, roomID string, status models.RoomStatus, winner *models.Winner) (bool, error)
	SetMemberScores(ctx context.Context, roomID string, scores map[string]int) error
	Delete(ctx context.Context, roomID string) error
}

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindWithHandle(ctx context.Context) ([]models.User, error)
	UpdateHandle(ctx context.Context, id, handle string) (*models.User, error)
	AddScore(ctx context.Context, id string, delta int) error
	SaveStreak(ctx context.Context, id string, streak models.Streak) error
}

type DailyRepository interface {
	Create(ctx context.Context, set *models.DailySet) error
	FindByDay(ctx context.Context, day string) (*models.DailySet, error)
	FindSince(ctx context.Context, day string) ([]models.DailySet, error)
	// RecordSolve stores a solve and reports false if it was already recorded.
	RecordSolve(ctx context.Context, solve *models.DailySolve) (bool, error)
	FindSolves(ctx context.Context, day string) ([]models.DailySolve, error)
	FindUserSolves(ctx context.Context, day, userID string) ([]models.DailySolve, error)
}

type Repositories struct {
	User  UserRepository
	Room  RoomRepository
	Daily DailyRepository
}

func NewRepositories(db *storage.PostgresDB) *Repositories {
	return &Repositories{
		User:  NewUserRepository(db),
		Room:  NewRoomRepository(db),
		Daily: NewDailyRepository(db),
	}
}
