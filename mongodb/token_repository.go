package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/keygate-dev/keygate/domain"
	serrors "github.com/keygate-dev/keygate/errors"
)

// RefreshTokenRepository implements domain.RefreshTokenRepository. Records
// only move from active to revoked; expiry is enforced by callers against
// ExpiresAt so a clock-skewed TTL monitor cannot resurrect anything.
type RefreshTokenRepository struct {
	tokens *mongo.Collection
}

// NewRefreshTokenRepository creates the repository and ensures its indexes.
func NewRefreshTokenRepository(ctx context.Context, db *mongo.Database) (*RefreshTokenRepository, error) {
	repo := &RefreshTokenRepository{
		tokens: db.Collection(RefreshTokensCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to create refresh token indexes (may already exist)")
	}
	return repo, nil
}

func (r *RefreshTokenRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "token", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "revoked", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
		},
	}
	_, err := r.tokens.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return fmt.Errorf("failed to create indexes for refresh tokens collection: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) Store(ctx context.Context, token *domain.RefreshToken) error {
	if token.ID == "" {
		token.ID = NewObjectID()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	_, err := r.tokens.InsertOne(ctx, token)
	if err != nil {
		log.Error().Err(err).Str("userID", token.UserID).Msg("Error storing refresh token")
		return err
	}
	return nil
}

func (r *RefreshTokenRepository) GetByValue(ctx context.Context, value string) (*domain.RefreshToken, error) {
	var token domain.RefreshToken
	err := r.tokens.FindOne(ctx, bson.M{"token": value}).Decode(&token)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrTokenInvalid
		}
		log.Error().Err(err).Msg("Error getting refresh token")
		return nil, err
	}
	return &token, nil
}

// RevokeActive flips an active record to revoked. The revoked:false filter
// makes the flip conditional, so of any set of concurrent callers exactly
// one observes the transition.
func (r *RefreshTokenRepository) RevokeActive(ctx context.Context, value string) (bool, error) {
	result, err := r.tokens.UpdateOne(ctx,
		bson.M{"token": value, "revoked": false},
		bson.M{"$set": bson.M{"revoked": true}},
	)
	if err != nil {
		log.Error().Err(err).Msg("Error revoking refresh token")
		return false, err
	}
	return result.ModifiedCount == 1, nil
}

// Revoke marks the record revoked regardless of current state.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, value string) error {
	_, err := r.tokens.UpdateOne(ctx,
		bson.M{"token": value},
		bson.M{"$set": bson.M{"revoked": true}},
	)
	if err != nil {
		log.Error().Err(err).Msg("Error revoking refresh token")
	}
	return err
}

// RevokeAllForUser revokes every active record for the user and returns the
// token values it touched so callers can evict caches.
func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string) ([]string, error) {
	filter := bson.M{"user_id": userID, "revoked": false}

	cursor, err := r.tokens.Find(ctx, filter)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error listing refresh tokens for revocation")
		return nil, err
	}
	var records []domain.RefreshToken
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}

	values := make([]string, 0, len(records))
	for _, record := range records {
		values = append(values, record.Token)
	}
	if len(values) == 0 {
		return nil, nil
	}

	_, err = r.tokens.UpdateMany(ctx,
		bson.M{"token": bson.M{"$in": values}},
		bson.M{"$set": bson.M{"revoked": true}},
	)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error revoking refresh tokens")
		return nil, err
	}
	return values, nil
}

// DeleteExpired removes records whose expiry has passed. Advisory cleanup;
// verification never trusts presence alone.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.tokens.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now.UTC()}})
	if err != nil {
		log.Error().Err(err).Msg("Error deleting expired refresh tokens")
		return 0, err
	}
	return result.DeletedCount, nil
}
