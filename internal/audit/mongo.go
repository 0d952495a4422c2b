package audit

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/karprabha/snowjob-backend/internal/domain"
)

// MongoSink stores entries in a collection with a unique index on id, so
// a retried append can never produce a second copy.
type MongoSink struct {
	collection *mongo.Collection
}

func NewMongoSink(ctx context.Context, collection *mongo.Collection) (*MongoSink, error) {
	if collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}

	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "job_id", Value: 1}, {Key: "seq", Value: 1}, {Key: "created_at", Value: 1}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("audit/mongo: ensure indexes: %w", err)
	}

	return &MongoSink{collection: collection}, nil
}

func (s *MongoSink) Append(ctx context.Context, entry domain.AuditEntry) error {
	if _, err := s.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("audit/mongo: append: %w", err)
	}
	return nil
}

func (s *MongoSink) List(ctx context.Context, jobID string) ([]domain.AuditEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: 1}, {Key: "created_at", Value: 1}})

	cursor, err := s.collection.Find(ctx, bson.M{"job_id": jobID}, opts)
	if err != nil {
		return nil, fmt.Errorf("audit/mongo: list: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []domain.AuditEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("audit/mongo: decode: %w", err)
	}
	return entries, nil
}
