package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"codebattle/internal/models"
	"codebattle/internal/repository"
	"codebattle/internal/storage"
)

type DailyRepository struct {
	sets   *mongo.Collection
	solves *mongo.Collection
}

func NewDailyRepository(db *storage.MongoDB) *DailyRepository {
	return &DailyRepository{
		sets:   db.Collection(storage.DailySetsCollection),
		solves: db.Collection(storage.DailySolvesCollection),
	}
}

func (r *DailyRepository) Create(ctx context.Context, set *models.DailySet) error {
	_, err := r.sets.InsertOne(ctx, set)
	if mongo.IsDuplicateKeyError(err) {
		return repository.ErrDuplicateKey
	}
	return err
}

func (r *DailyRepository) FindByDay(ctx context.Context, day string) (*models.DailySet, error) {
	var set models.DailySet
	err := r.sets.FindOne(ctx, bson.M{"_id": day}).Decode(&set)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, repository.ErrDailyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &set, nil
}

func (r *DailyRepository) FindSince(ctx context.Context, day string) ([]models.DailySet, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.sets.Find(ctx, bson.M{"_id": bson.M{"$gte": day}}, opts)
	if err != nil {
		return nil, err
	}
	var sets []models.DailySet
	if err := cursor.All(ctx, &sets); err != nil {
		return nil, err
	}
	return sets, nil
}

func (r *DailyRepository) RecordSolve(ctx context.Context, solve *models.DailySolve) (bool, error) {
	_, err := r.solves.InsertOne(ctx, solve)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	return err == nil, err
}

func (r *DailyRepository) findSolves(ctx context.Context, filter bson.M) ([]models.DailySolve, error) {
	opts := options.Find().SetSort(bson.D{{Key: "userId", Value: 1}, {Key: "problemIndex", Value: 1}})
	cursor, err := r.solves.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var solves []models.DailySolve
	if err := cursor.All(ctx, &solves); err != nil {
		return nil, err
	}
	return solves, nil
}

func (r *DailyRepository) FindSolves(ctx context.Context, day string) ([]models.DailySolve, error) {
	return r.findSolves(ctx, bson.M{"day": day})
}

func (r *DailyRepository) FindUserSolves(ctx context.Context, day, userID string) ([]models.DailySolve, error) {
	return r.findSolves(ctx, bson.M{"day": day, "userId": userID})
}

var _ repository.DailyRepository = (*DailyRepository)(nil)
