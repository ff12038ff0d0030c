package mongodb

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/keygate-dev/keygate/domain"
	serrors "github.com/keygate-dev/keygate/errors"
)

// ClientRepository implements domain.ClientRepository. Read-only: client
// registration is owned elsewhere.
type ClientRepository struct {
	clients *mongo.Collection
}

func NewClientRepository(db *mongo.Database) *ClientRepository {
	return &ClientRepository{
		clients: db.Collection(ClientsCollection),
	}
}

func (r *ClientRepository) GetByClientID(ctx context.Context, clientID string) (*domain.Client, error) {
	var client domain.Client
	err := r.clients.FindOne(ctx, bson.M{"client_id": clientID}).Decode(&client)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrInvalidClient
		}
		log.Error().Err(err).Str("clientID", clientID).Msg("Error getting client")
		return nil, err
	}
	return &client, nil
}
