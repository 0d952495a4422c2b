package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/karprabha/snowjob-backend/internal/domain"
)

type jobModel struct {
	ID                 string     `bson:"_id"`
	ClientID           string     `bson:"client_id"`
	OperatorID         string     `bson:"operator_id"`
	OperatorName       string     `bson:"operator_name,omitempty"`
	Status             string     `bson:"status"`
	PaymentStatus      string     `bson:"payment_status"`
	Price              string     `bson:"price"`
	Currency           string     `bson:"currency"`
	Address            string     `bson:"address"`
	Notes              string     `bson:"notes"`
	EscrowReference    string     `bson:"escrow_reference"`
	CompletionArtifact string     `bson:"completion_artifact"`
	CancelledAt        *time.Time `bson:"cancelled_at,omitempty"`
	CancelledBy        string     `bson:"cancelled_by"`
	CompletedAt        *time.Time `bson:"completed_at,omitempty"`
	ReopenCount        int        `bson:"reopen_count"`
	Version            int64      `bson:"version"`
	CreatedAt          time.Time  `bson:"created_at"`
	UpdatedAt          time.Time  `bson:"updated_at"`
}

func toJobModel(j domain.Job) jobModel {
	return jobModel{
		ID:                 j.ID,
		ClientID:           j.ClientID,
		OperatorID:         j.OperatorID,
		OperatorName:       j.OperatorName,
		Status:             string(j.Status),
		PaymentStatus:      string(j.PaymentStatus),
		Price:              j.Price.String(),
		Currency:           j.Currency,
		Address:            j.Address,
		Notes:              j.Notes,
		EscrowReference:    j.EscrowReference,
		CompletionArtifact: j.CompletionArtifact,
		CancelledAt:        j.CancelledAt,
		CancelledBy:        j.CancelledBy,
		CompletedAt:        j.CompletedAt,
		ReopenCount:        j.ReopenCount,
		Version:            j.Version,
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
	}
}

func fromJobModel(m jobModel) (domain.Job, error) {
	price, err := decimal.NewFromString(m.Price)
	if err != nil {
		return domain.Job{}, fmt.Errorf("job %s price %q: %w", m.ID, m.Price, err)
	}
	return domain.Job{
		ID:                 m.ID,
		ClientID:           m.ClientID,
		OperatorID:         m.OperatorID,
		OperatorName:       m.OperatorName,
		Status:             domain.JobStatus(m.Status),
		PaymentStatus:      domain.PaymentStatus(m.PaymentStatus),
		Price:              price,
		Currency:           m.Currency,
		Address:            m.Address,
		Notes:              m.Notes,
		EscrowReference:    m.EscrowReference,
		CompletionArtifact: m.CompletionArtifact,
		CancelledAt:        utcPtr(m.CancelledAt),
		CancelledBy:        m.CancelledBy,
		CompletedAt:        utcPtr(m.CompletedAt),
		ReopenCount:        m.ReopenCount,
		Version:            m.Version,
		CreatedAt:          m.CreatedAt.UTC(),
		UpdatedAt:          m.UpdatedAt.UTC(),
	}, nil
}

// MongoJobStore keeps one document per job. Saves replace the document
// only when its version field still holds the expected value.
type MongoJobStore struct {
	collection *mongo.Collection
}

func NewMongoJobStore(ctx context.Context, collection *mongo.Collection) (*MongoJobStore, error) {
	if collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}

	_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "operator_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "payment_status", Value: 1}, {Key: "status", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("store/mongo: ensure indexes: %w", err)
	}

	return &MongoJobStore{collection: collection}, nil
}

func (s *MongoJobStore) CreateJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	stored := job.Clone()
	stored.Version = 1

	if _, err := s.collection.InsertOne(ctx, toJobModel(stored)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Job{}, fmt.Errorf("create job %s: %w", job.ID, ErrJobExists)
		}
		return domain.Job{}, fmt.Errorf("store/mongo: create job: %w", err)
	}
	return stored, nil
}

func (s *MongoJobStore) GetJob(ctx context.Context, id string) (domain.Job, error) {
	var m jobModel
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Job{}, fmt.Errorf("job %s: %w", id, domain.ErrJobNotFound)
		}
		return domain.Job{}, fmt.Errorf("store/mongo: get job: %w", err)
	}
	return fromJobModel(m)
}

func (s *MongoJobStore) SaveJob(ctx context.Context, job domain.Job, expectedVersion int64) (domain.Job, error) {
	stored := job.Clone()
	stored.Version = expectedVersion + 1

	res, err := s.collection.ReplaceOne(ctx, bson.M{"_id": job.ID, "version": expectedVersion}, toJobModel(stored))
	if err != nil {
		return domain.Job{}, fmt.Errorf("store/mongo: save job: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetJob(ctx, job.ID); err != nil {
			return domain.Job{}, err
		}
		return domain.Job{}, fmt.Errorf("job %s expected version %d: %w", job.ID, expectedVersion, domain.ErrStaleState)
	}
	return stored, nil
}

func (s *MongoJobStore) ListJobs(ctx context.Context) ([]domain.Job, error) {
	return s.find(ctx, bson.M{})
}

func (s *MongoJobStore) ListByOperator(ctx context.Context, operatorID string) ([]domain.Job, error) {
	return s.find(ctx, bson.M{"operator_id": operatorID})
}

func (s *MongoJobStore) ListNeedingReconciliation(ctx context.Context) ([]domain.Job, error) {
	return s.find(ctx, bson.M{
		"payment_status": string(domain.PaymentHeld),
		"status":         bson.M{"$in": []string{string(domain.StatusCompleted), string(domain.StatusCancelled)}},
	})
}

func (s *MongoJobStore) find(ctx context.Context, filter bson.M) ([]domain.Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("store/mongo: list jobs: %w", err)
	}
	defer cursor.Close(ctx)

	var models []jobModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("store/mongo: decode jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(models))
	for _, m := range models {
		job, err := fromJobModel(m)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
