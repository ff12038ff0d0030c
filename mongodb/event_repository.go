package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/keygate-dev/keygate/domain"
)

// EventRepository implements domain.EventRepository. The collection is
// append-only; nothing in this package updates or deletes events.
type EventRepository struct {
	events *mongo.Collection
}

// NewEventRepository creates the repository and ensures its indexes.
func NewEventRepository(ctx context.Context, db *mongo.Database) (*EventRepository, error) {
	repo := &EventRepository{
		events: db.Collection(EventsCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to create event indexes (may already exist)")
	}
	return repo, nil
}

func (r *EventRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "kind", Value: 1}, {Key: "created_at", Value: -1}},
		},
	}
	_, err := r.events.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return fmt.Errorf("failed to create indexes for events collection: %w", err)
	}
	return nil
}

func (r *EventRepository) Append(ctx context.Context, event *domain.SecurityEvent) error {
	if event.ID == "" {
		event.ID = NewObjectID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := r.events.InsertOne(ctx, event)
	return err
}
