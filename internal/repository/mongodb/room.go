// Package mongodb stores rooms, users and daily sets as MongoDB documents.
// Room members are embedded in the room document, so every membership change
// is a single conditional update.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"codebattle/internal/models"
	"codebattle/internal/repository"
	"codebattle/internal/storage"
)

func NewRepositories(db *storage.MongoDB) *repository.Repositories {
	return &repository.Repositories{
		User:  NewUserRepository(db),
		Room:  NewRoomRepository(db),
		Daily: NewDailyRepository(db),
	}
}

type RoomRepository struct {
	coll *mongo.Collection
}

func NewRoomRepository(db *storage.MongoDB) *RoomRepository {
	return &RoomRepository{coll: db.Collection(storage.RoomsCollection)}
}

// seat is the path of the n-th player slot (0-based).
func seat(n int) string {
	return fmt.Sprintf("players.%d", n)
}

func (r *RoomRepository) Create(ctx context.Context, room *models.Room) error {
	now := time.Now()
	if room.CreatedAt.IsZero() {
		room.CreatedAt = now
	}
	room.UpdatedAt = now
	if room.Players == nil {
		room.Players = []models.Member{}
	}

	_, err := r.coll.InsertOne(ctx, room)
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrDuplicateKey
	}
	return err
}

func (r *RoomRepository) FindByID(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	err := r.coll.FindOne(ctx, bson.M{"_id": roomID}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, repository.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (r *RoomRepository) find(ctx context.Context, filter bson.M) ([]models.Room, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	rooms := []models.Room{}
	if err := cursor.All(ctx, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (r *RoomRepository) FindAll(ctx context.Context) ([]models.Room, error) {
	return r.find(ctx, bson.M{})
}

func (r *RoomRepository) FindByStatus(ctx context.Context, status models.RoomStatus) ([]models.Room, error) {
	return r.find(ctx, bson.M{"status": status})
}

func (r *RoomRepository) FindByMember(ctx context.Context, userID string) ([]models.Room, error) {
	return r.find(ctx, bson.M{"players.userId": userID})
}

// update applies a conditional update and returns the new document. When the
// filter no longer matches, explain turns the current state into an error.
func (r *RoomRepository) update(ctx context.Context, filter, change bson.M, explain func(*models.Room) error) (*models.Room, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var room models.Room
	err := r.coll.FindOneAndUpdate(ctx, filter, change, opts).Decode(&room)
	if err == nil {
		return &room, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	current, err := r.FindByID(ctx, filter["_id"].(string))
	if err != nil {
		return nil, err
	}
	if err := explain(current); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("room %s changed concurrently", current.RoomID)
}

func waitingPreconditions(room *models.Room) error {
	if room.Status != models.RoomStatusWaiting {
		return repository.ErrNotWaiting
	}
	return nil
}

func (r *RoomRepository) AddMember(ctx context.Context, roomID string, member models.Member) (*models.Room, error) {
	room, err := r.FindByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	capacity := room.Capacity()

	filter := bson.M{
		"_id":            roomID,
		"status":         models.RoomStatusWaiting,
		"mode":           room.Mode,
		"players.userId": bson.M{"$ne": member.UserID},
	}
	filter[seat(capacity-1)] = bson.M{"$exists": false}
	change := bson.M{
		"$push": bson.M{"players": member},
		"$set":  bson.M{"updatedAt": time.Now()},
	}
	return r.update(ctx, filter, change, func(current *models.Room) error {
		switch {
		case current.Status != models.RoomStatusWaiting:
			return repository.ErrNotWaiting
		case current.HasMember(member.UserID):
			return repository.ErrAlreadyMember
		case current.IsFull():
			return repository.ErrRoomFull
		}
		return nil
	})
}

func (r *RoomRepository) RemoveMember(ctx context.Context, roomID, userID string) (*models.Room, error) {
	filter := bson.M{
		"_id":            roomID,
		"status":         models.RoomStatusWaiting,
		"players.userId": userID,
	}
	change := bson.M{
		"$pull": bson.M{"players": bson.M{"userId": userID}},
		"$set":  bson.M{"updatedAt": time.Now()},
	}
	return r.update(ctx, filter, change, func(current *models.Room) error {
		if err := waitingPreconditions(current); err != nil {
			return err
		}
		if !current.HasMember(userID) {
			return repository.ErrNotMember
		}
		return nil
	})
}

func (r *RoomRepository) Update(ctx context.Context, roomID string, patch repository.RoomPatch) (*models.Room, error) {
	room, err := r.FindByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if err := waitingPreconditions(room); err != nil {
		return nil, err
	}
	patch.Apply(room)
	if len(room.Players) > room.Capacity() {
		return nil, repository.ErrModeTooSmall
	}

	filter := bson.M{
		"_id":    roomID,
		"status": models.RoomStatusWaiting,
	}
	filter[seat(room.Capacity())] = bson.M{"$exists": false}
	change := bson.M{"$set": bson.M{
		"mode":          room.Mode,
		"duration":      room.Duration,
		"problemRating": room.ProblemRating,
		"topics":        room.Topics,
		"updatedAt":     time.Now(),
	}}
	return r.update(ctx, filter, change, func(current *models.Room) error {
		if err := waitingPreconditions(current); err != nil {
			return err
		}
		return repository.ErrModeTooSmall
	})
}

func (r *RoomRepository) Activate(ctx context.Context, roomID string, problem models.Problem, start, end time.Time) (*models.Room, error) {
	room, err := r.FindByID(ctx, roomID)
	if err != nil {
		return nil, err
	}

	filter := bson.M{
		"_id":    roomID,
		"status": models.RoomStatusWaiting,
		"mode":   room.Mode,
	}
	filter[seat(room.Capacity()-1)] = bson.M{"$exists": true}
	change := bson.M{"$set": bson.M{
		"problem":   problem,
		"status":    models.RoomStatusActive,
		"startTime": start,
		"endTime":   end,
		"updatedAt": time.Now(),
	}}
	return r.update(ctx, filter, change, func(current *models.Room) error {
		if err := waitingPreconditions(current); err != nil {
			return err
		}
		if !current.IsFull() {
			return repository.ErrRoomNotFull
		}
		return nil
	})
}

func (r *RoomRepository) Finalize(ctx context.Context, roomID string, status models.RoomStatus, winner *models.Winner) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": roomID, "status": models.RoomStatusActive},
		bson.M{"$set": bson.M{"status": status, "winner": winner, "updatedAt": time.Now()}},
	)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	if _, err := r.FindByID(ctx, roomID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *RoomRepository) SetMemberScores(ctx context.Context, roomID string, scores map[string]int) error {
	for userID, score := range scores {
		_, err := r.coll.UpdateOne(ctx,
			bson.M{"_id": roomID, "players.userId": userID},
			bson.M{"$set": bson.M{"players.$.score": score}},
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *RoomRepository) Delete(ctx context.Context, roomID string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": roomID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return repository.ErrRoomNotFound
	}
	return nil
}

var _ repository.RoomRepository = (*RoomRepository)(nil)
