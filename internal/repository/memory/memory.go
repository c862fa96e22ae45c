// Package memory keeps rooms, users and daily sets in process memory.
// It backs the "memory" storage driver and the service tests.
package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"codebattle/internal/models"
	"codebattle/internal/repository"
)

func NewRepositories() *repository.Repositories {
	return &repository.Repositories{
		User:  NewUserRepository(),
		Room:  NewRoomRepository(),
		Daily: NewDailyRepository(),
	}
}

type RoomRepository struct {
	mu    sync.Mutex
	rooms map[string]*models.Room
}

func NewRoomRepository() *RoomRepository {
	return &RoomRepository{rooms: make(map[string]*models.Room)}
}

func (r *RoomRepository) Create(_ context.Context, room *models.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[room.RoomID]; ok {
		return repository.ErrDuplicateKey
	}
	now := time.Now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now
	for i := range room.Players {
		room.Players[i].RoomID = room.RoomID
	}
	r.rooms[room.RoomID] = room.Clone()
	return nil
}

func (r *RoomRepository) FindByID(_ context.Context, roomID string) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	return room.Clone(), nil
}

func (r *RoomRepository) list(keep func(*models.Room) bool) []models.Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := make([]models.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		if keep(room) {
			rooms = append(rooms, *room.Clone())
		}
	}
	slices.SortFunc(rooms, func(a, b models.Room) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.RoomID, b.RoomID)
	})
	return rooms
}

func (r *RoomRepository) FindAll(context.Context) ([]models.Room, error) {
	return r.list(func(*models.Room) bool { return true }), nil
}

func (r *RoomRepository) FindByStatus(_ context.Context, status models.RoomStatus) ([]models.Room, error) {
	return r.list(func(room *models.Room) bool { return room.Status == status }), nil
}

func (r *RoomRepository) FindByMember(_ context.Context, userID string) ([]models.Room, error) {
	return r.list(func(room *models.Room) bool { return room.HasMember(userID) }), nil
}

// mutate runs fn on the stored room under the repository lock. Changes are
// kept only when fn succeeds.
func (r *RoomRepository) mutate(roomID string, fn func(room *models.Room) error) (*models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.rooms[roomID]
	if !ok {
		return nil, repository.ErrRoomNotFound
	}
	room := stored.Clone()
	if err := fn(room); err != nil {
		return nil, err
	}
	room.UpdatedAt = time.Now()
	r.rooms[roomID] = room
	return room.Clone(), nil
}

func (r *RoomRepository) AddMember(_ context.Context, roomID string, member models.Member) (*models.Room, error) {
	return r.mutate(roomID, func(room *models.Room) error {
		switch {
		case room.Status != models.RoomStatusWaiting:
			return repository.ErrNotWaiting
		case room.HasMember(member.UserID):
			return repository.ErrAlreadyMember
		case room.IsFull():
			return repository.ErrRoomFull
		}
		member.RoomID = roomID
		room.Players = append(room.Players, member)
		return nil
	})
}

func (r *RoomRepository) RemoveMember(_ context.Context, roomID, userID string) (*models.Room, error) {
	return r.mutate(roomID, func(room *models.Room) error {
		if room.Status != models.RoomStatusWaiting {
			return repository.ErrNotWaiting
		}
		idx := room.MemberIndex(userID)
		if idx < 0 {
			return repository.ErrNotMember
		}
		room.Players = slices.Delete(room.Players, idx, idx+1)
		return nil
	})
}

func (r *RoomRepository) Update(_ context.Context, roomID string, patch repository.RoomPatch) (*models.Room, error) {
	return r.mutate(roomID, func(room *models.Room) error {
		if room.Status != models.RoomStatusWaiting {
			return repository.ErrNotWaiting
		}
		patch.Apply(room)
		if len(room.Players) > room.Capacity() {
			return repository.ErrModeTooSmall
		}
		return nil
	})
}

func (r *RoomRepository) Activate(_ context.Context, roomID string, problem models.Problem, start, end time.Time) (*models.Room, error) {
	return r.mutate(roomID, func(room *models.Room) error {
		if room.Status != models.RoomStatusWaiting {
			return repository.ErrNotWaiting
		}
		if !room.IsFull() {
			return repository.ErrRoomNotFull
		}
		room.Problem = &problem
		room.Status = models.RoomStatusActive
		room.StartTime = &start
		room.EndTime = &end
		return nil
	})
}

func (r *RoomRepository) Finalize(_ context.Context, roomID string, status models.RoomStatus, winner *models.Winner) (bool, error) {
	_, err := r.mutate(roomID, func(room *models.Room) error {
		if room.Status != models.RoomStatusActive {
			return errNotActive
		}
		room.Status = status
		room.Winner = winner
		return nil
	})
	if err == errNotActive {
		return false, nil
	}
	return err == nil, err
}

func (r *RoomRepository) SetMemberScores(_ context.Context, roomID string, scores map[string]int) error {
	_, err := r.mutate(roomID, func(room *models.Room) error {
		for i := range room.Players {
			if s, ok := scores[room.Players[i].UserID]; ok {
				room.Players[i].Score = s
			}
		}
		return nil
	})
	return err
}

func (r *RoomRepository) Delete(_ context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomID]; !ok {
		return repository.ErrRoomNotFound
	}
	delete(r.rooms, roomID)
	return nil
}

var errNotActive = errors.New("room is not active")

var (
	_ repository.RoomRepository  = (*RoomRepository)(nil)
	_ repository.UserRepository  = (*UserRepository)(nil)
	_ repository.DailyRepository = (*DailyRepository)(nil)
)
