package persistence

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"crosspost/domain/model"
	"crosspost/domain/repository"
	"crosspost/infrastructure/logger"
)

// AnalyticsRepository stores engagement snapshots in MongoDB, append-only.
// Time-series data with a flexible shape fits the document store better than
// the relational core.
type AnalyticsRepository struct {
	mongoDb    *mongo.Client
	database   string
	collection string
}

func NewAnalyticsRepository(db *mongo.Client, database, collection string) repository.IAnalyticsRepository {
	return &AnalyticsRepository{mongoDb: db, database: database, collection: collection}
}

func (r *AnalyticsRepository) col() *mongo.Collection {
	return r.mongoDb.Database(r.database).Collection(r.collection)
}

func (r *AnalyticsRepository) Insert(ctx context.Context, snap model.StatSnapshot) error {
	if r.mongoDb == nil {
		logger.GetLogger().Debug("MongoDB client is nil - dropping stat snapshot")
		return nil
	}
	if _, err := r.col().InsertOne(ctx, snap); err != nil {
		return model.WrapError(model.KindStorageUnavailable, err, "inserting stat snapshot")
	}
	return nil
}

func (r *AnalyticsRepository) ListForVideo(ctx context.Context, videoID string, limit int) ([]model.StatSnapshot, error) {
	return r.list(ctx, bson.M{"video_id": videoID}, limit)
}

func (r *AnalyticsRepository) ListForPost(ctx context.Context, postID string, limit int) ([]model.StatSnapshot, error) {
	return r.list(ctx, bson.M{"post_id": postID}, limit)
}

func (r *AnalyticsRepository) list(ctx context.Context, filter bson.M, limit int) ([]model.StatSnapshot, error) {
	if r.mongoDb == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "fetched_at", Value: -1}}).
		SetLimit(int64(limit))
	cursor, err := r.col().Find(ctx, filter, opts)
	if err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "querying stat snapshots")
	}
	defer func(cursor *mongo.Cursor, ctx context.Context) {
		if err := cursor.Close(ctx); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while closing cursor")
		}
	}(cursor, ctx)

	var out []model.StatSnapshot
	for cursor.Next(ctx) {
		var snap model.StatSnapshot
		if err := cursor.Decode(&snap); err != nil {
			logger.GetLogger().WithField("error", err).Error("Error while decoding stat snapshot")
			continue
		}
		out = append(out, snap)
	}
	if err := cursor.Err(); err != nil {
		return nil, model.WrapError(model.KindStorageUnavailable, err, "iterating stat snapshots")
	}
	return out, nil
}
