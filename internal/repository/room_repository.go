package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"codebattle/internal/models"
	"codebattle/internal/storage"
)

type roomRepository struct {
	db *storage.PostgresDB
}

func NewRoomRepository(db *storage.PostgresDB) RoomRepository {
	return &roomRepository{db: db}
}

func (r *roomRepository) withPlayers(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Players", playersInJoinOrder)
}

func (r *roomRepository) Create(ctx context.Context, room *models.Room) error {
	return translate(r.db.WithContext(ctx).Create(room).Error, ErrRoomNotFound)
}

func (r *roomRepository) FindByID(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	err := r.withPlayers(ctx).First(&room, "room_id = ?", roomID).Error
	if err != nil {
		return nil, translate(err, ErrRoomNotFound)
	}
	return &room, nil
}

// FindAll returns every room, newest first.
func (r *roomRepository) FindAll(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	err := r.withPlayers(ctx).Order("created_at DESC").Find(&rooms).Error
	return rooms, err
}

func (r *roomRepository) FindByStatus(ctx context.Context, status models.RoomStatus) ([]models.Room, error) {
	var rooms []models.Room
	err := r.withPlayers(ctx).Where("status = ?", status).Order("created_at DESC").Find(&rooms).Error
	return rooms, err
}

func (r *roomRepository) FindByMember(ctx context.Context, userID string) ([]models.Room, error) {
	var rooms []models.Room
	members := r.db.Model(&models.Member{}).Select("room_id").Where("user_id = ?", userID)
	err := r.withPlayers(ctx).Where("room_id IN (?)", members).Order("created_at DESC").Find(&rooms).Error
	return rooms, err
}

// lock loads the room row with FOR UPDATE so membership checks and writes
// inside tx cannot interleave with another transaction on the same room.
func lock(tx *gorm.DB, roomID string) (*models.Room, error) {
	var room models.Room
	if err := forUpdate(tx).First(&room, "room_id = ?", roomID).Error; err != nil {
		return nil, translate(err, ErrRoomNotFound)
	}
	if err := playersInJoinOrder(tx.Where("room_id = ?", roomID)).Find(&room.Players).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func touch(tx *gorm.DB, roomID string, now time.Time) error {
	return tx.Model(&models.Room{}).Where("room_id = ?", roomID).Update("updated_at", now).Error
}

func (r *roomRepository) AddMember(ctx context.Context, roomID string, member models.Member) (*models.Room, error) {
	var result *models.Room
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lock(tx, roomID)
		if err != nil {
			return err
		}
		switch {
		case room.Status != models.RoomStatusWaiting:
			return ErrNotWaiting
		case room.HasMember(member.UserID):
			return ErrAlreadyMember
		case room.IsFull():
			return ErrRoomFull
		}

		member.ID = 0
		member.RoomID = roomID
		if err := tx.Create(&member).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyMember
			}
			return err
		}
		now := time.Now()
		if err := touch(tx, roomID, now); err != nil {
			return err
		}

		room.Players = append(room.Players, member)
		room.UpdatedAt = now
		result = room
		return nil
	})
	return result, err
}

func (r *roomRepository) RemoveMember(ctx context.Context, roomID, userID string) (*models.Room, error) {
	var result *models.Room
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lock(tx, roomID)
		if err != nil {
			return err
		}
		if room.Status != models.RoomStatusWaiting {
			return ErrNotWaiting
		}
		idx := room.MemberIndex(userID)
		if idx < 0 {
			return ErrNotMember
		}

		if err := tx.Where("room_id = ? AND user_id = ?", roomID, userID).Delete(&models.Member{}).Error; err != nil {
			return err
		}
		now := time.Now()
		if err := touch(tx, roomID, now); err != nil {
			return err
		}

		room.Players = append(room.Players[:idx], room.Players[idx+1:]...)
		room.UpdatedAt = now
		result = room
		return nil
	})
	return result, err
}

func (r *roomRepository) Update(ctx context.Context, roomID string, patch RoomPatch) (*models.Room, error) {
	var result *models.Room
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lock(tx, roomID)
		if err != nil {
			return err
		}
		if room.Status != models.RoomStatusWaiting {
			return ErrNotWaiting
		}

		patch.Apply(room)
		if len(room.Players) > room.Capacity() {
			return ErrModeTooSmall
		}
		room.UpdatedAt = time.Now()

		err = tx.Model(room).
			Select("mode", "duration", "problem_rating", "topics", "updated_at").
			Updates(room).Error
		if err != nil {
			return err
		}
		result = room
		return nil
	})
	return result, err
}

func (r *roomRepository) Activate(ctx context.Context, roomID string, problem models.Problem, start, end time.Time) (*models.Room, error) {
	var result *models.Room
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := lock(tx, roomID)
		if err != nil {
			return err
		}
		if room.Status != models.RoomStatusWaiting {
			return ErrNotWaiting
		}
		if !room.IsFull() {
			return ErrRoomNotFull
		}

		room.Problem = &problem
		room.Status = models.RoomStatusActive
		room.StartTime = &start
		room.EndTime = &end
		room.UpdatedAt = time.Now()

		err = tx.Model(room).
			Select("problem", "status", "start_time", "end_time", "updated_at").
			Updates(room).Error
		if err != nil {
			return err
		}
		result = room
		return nil
	})
	return result, err
}

func (r *roomRepository) Finalize(ctx context.Context, roomID string, status models.RoomStatus, winner *models.Winner) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Room{}).
		Where("room_id = ? AND status = ?", roomID, models.RoomStatusActive).
		Select("status", "winner", "updated_at").
		Updates(&models.Room{Status: status, Winner: winner, UpdatedAt: time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	if _, err := r.FindByID(ctx, roomID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *roomRepository) SetMemberScores(ctx context.Context, roomID string, scores map[string]int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for userID, score := range scores {
			err := tx.Model(&models.Member{}).
				Where("room_id = ? AND user_id = ?", roomID, userID).
				Update("score", score).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *roomRepository) Delete(ctx context.Context, roomID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Delete(&models.Member{}).Error; err != nil {
			return err
		}
		res := tx.Where("room_id = ?", roomID).Delete(&models.Room{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRoomNotFound
		}
		return nil
	})
}
