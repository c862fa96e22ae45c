package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"codebattle/internal/models"
	"codebattle/internal/repository"
	"codebattle/internal/storage"
)

type UserRepository struct {
	coll *mongo.Collection
}

func NewUserRepository(db *storage.MongoDB) *UserRepository {
	return &UserRepository{coll: db.Collection(storage.UsersCollection)}
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := r.coll.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrUsernameTaken
	}
	return err
}

func (r *UserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	err := r.coll.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, repository.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"username": username})
}

func (r *UserRepository) FindWithHandle(ctx context.Context) ([]models.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.coll.Find(ctx, bson.M{"codeforcesHandle": bson.M{"$nin": bson.A{"", nil}}}, opts)
	if err != nil {
		return nil, err
	}
	var users []models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, err
	}
	return users, nil
}

func (r *UserRepository) UpdateHandle(ctx context.Context, id, handle string) (*models.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var user models.User
	err := r.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"codeforcesHandle": handle, "updatedAt": time.Now()}},
		opts,
	).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, repository.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) updateOne(ctx context.Context, id string, change bson.M) error {
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, change)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) AddScore(ctx context.Context, id string, delta int) error {
	return r.updateOne(ctx, id, bson.M{
		"$inc": bson.M{"score": delta},
		"$set": bson.M{"updatedAt": time.Now()},
	})
}

func (r *UserRepository) SaveStreak(ctx context.Context, id string, streak models.Streak) error {
	return r.updateOne(ctx, id, bson.M{
		"$set": bson.M{"streak": streak, "updatedAt": time.Now()},
	})
}

var _ repository.UserRepository = (*UserRepository)(nil)
