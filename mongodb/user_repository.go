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

// caseInsensitive matches the collation on the unique email index so lookups
// hit the index and "User@Example.com" resolves the same account as the
// lowercase form.
var caseInsensitive = options.Collation{Locale: "en", Strength: 2}

// UserRepository implements domain.UserRepository on MongoDB. The mutations
// that back concurrent flows are single conditional updates so correctness
// does not depend on application-level locking.
type UserRepository struct {
	users *mongo.Collection
}

// NewUserRepository creates a UserRepository and ensures its indexes.
func NewUserRepository(ctx context.Context, db *mongo.Database) (*UserRepository, error) {
	repo := &UserRepository{
		users: db.Collection(UsersCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to create user indexes (may already exist)")
	}
	return repo, nil
}

func (r *UserRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetCollation(&caseInsensitive),
		},
		{
			Keys:    bson.D{{Key: "lock_until", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
	_, err := r.users.Indexes().CreateMany(ctx, indexModels)
	if err != nil {
		return fmt.Errorf("failed to create indexes for users collection: %w", err)
	}
	return nil
}

// CreateUser inserts a new user. A duplicate email is reported as a plain
// error since registration is not a security-sensitive distinction here.
func (r *UserRepository) CreateUser(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = NewObjectID()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	if len(user.Roles) == 0 {
		user.Roles = []string{"user"}
	}

	_, err := r.users.InsertOne(ctx, user)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.New("user with this email already exists")
		}
		log.Error().Err(err).Str("email", user.Email).Msg("Error creating user")
		return err
	}
	return nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrUserNotFound
		}
		log.Error().Err(err).Str("id", id).Msg("Error getting user by ID")
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	opts := options.FindOne().SetCollation(&caseInsensitive)
	err := r.users.FindOne(ctx, bson.M{"email": email}, opts).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrUserNotFound
		}
		log.Error().Err(err).Msg("Error getting user by email")
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) SetPasswordHash(ctx context.Context, userID, hash string) error {
	return r.setFields(ctx, userID, bson.M{"password_hash": hash})
}

func (r *UserRepository) SetLastLogin(ctx context.Context, userID string, at time.Time) error {
	return r.setFields(ctx, userID, bson.M{"last_login_at": at.UTC()})
}

// IncrementFailedLogin advances the lockout state in a single pipeline
// update, so concurrent failures each land on a distinct counter value and
// the lock deadline is written exactly once. A deadline that has already
// passed is treated as absent and the counter restarts at one.
func (r *UserRepository) IncrementFailedLogin(ctx context.Context, userID string, threshold int, lockFor time.Duration) (*domain.LockState, error) {
	now := time.Now().UTC()
	lockUntil := now.Add(lockFor)

	staleLock := bson.M{"$and": bson.A{
		bson.M{"$ne": bson.A{bson.M{"$ifNull": bson.A{"$lock_until", nil}}, nil}},
		bson.M{"$lte": bson.A{"$lock_until", now}},
	}}
	nextAttempts := bson.M{"$add": bson.A{
		bson.M{"$ifNull": bson.A{"$failed_login_attempts", 0}}, 1,
	}}

	pipeline := bson.A{
		bson.M{"$set": bson.M{
			"failed_login_attempts": bson.M{"$cond": bson.A{staleLock, 1, nextAttempts}},
			"lock_until": bson.M{"$switch": bson.M{
				"branches": bson.A{
					bson.M{"case": staleLock, "then": "$$REMOVE"},
					bson.M{
						"case": bson.M{"$and": bson.A{
							bson.M{"$eq": bson.A{bson.M{"$ifNull": bson.A{"$lock_until", nil}}, nil}},
							bson.M{"$gte": bson.A{nextAttempts, threshold}},
						}},
						"then": lockUntil,
					},
				},
				"default": "$lock_until",
			}},
			"updated_at": now,
		}},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var user domain.User
	err := r.users.FindOneAndUpdate(ctx, bson.M{"_id": userID}, pipeline, opts).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrUserNotFound
		}
		log.Error().Err(err).Str("userID", userID).Msg("Error advancing lockout state")
		return nil, err
	}

	return &domain.LockState{
		Attempts:  user.FailedLoginAttempts,
		LockUntil: user.LockUntil,
		// The deadline is written on the attempt that reaches the threshold;
		// later failures leave the counter above it.
		JustLocked: user.LockUntil != nil && user.FailedLoginAttempts == threshold,
	}, nil
}

func (r *UserRepository) ResetFailedLogin(ctx context.Context, userID string) error {
	update := bson.M{
		"$set":   bson.M{"failed_login_attempts": 0, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"lock_until": ""},
	}
	result, err := r.users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error resetting lockout state")
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrUserNotFound
	}
	return nil
}

// ActivateTwoFactor persists the confirmed secret, the backup-code hashes
// and the enabled flag in one write, and restarts step tracking.
func (r *UserRepository) ActivateTwoFactor(ctx context.Context, userID, secret string, backupCodeHashes []string) error {
	return r.setFields(ctx, userID, bson.M{
		"two_factor_enabled":      true,
		"two_factor_secret":       secret,
		"two_factor_backup_codes": backupCodeHashes,
		"two_factor_last_step":    0,
	})
}

func (r *UserRepository) DisableTwoFactor(ctx context.Context, userID string) error {
	update := bson.M{
		"$set": bson.M{"two_factor_enabled": false, "updated_at": time.Now().UTC()},
		"$unset": bson.M{
			"two_factor_secret":       "",
			"two_factor_backup_codes": "",
			"two_factor_last_step":    "",
		},
	}
	result, err := r.users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error disabling two-factor authentication")
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrUserNotFound
	}
	return nil
}

func (r *UserRepository) ReplaceBackupCodes(ctx context.Context, userID string, backupCodeHashes []string) error {
	return r.setFields(ctx, userID, bson.M{"two_factor_backup_codes": backupCodeHashes})
}

// RemoveBackupCode pulls one stored hash. The pull is the atomicity point:
// of two concurrent redemptions of the same code only one modifies the
// document.
func (r *UserRepository) RemoveBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	update := bson.M{
		"$pull": bson.M{"two_factor_backup_codes": codeHash},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	result, err := r.users.UpdateOne(ctx, bson.M{"_id": userID}, update)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error removing backup code")
		return false, err
	}
	if result.MatchedCount == 0 {
		return false, serrors.ErrUserNotFound
	}
	return result.ModifiedCount == 1, nil
}

// AdvanceTwoFactorStep records the accepted step only when it is beyond the
// stored one. A non-advancing update means the step was already consumed.
func (r *UserRepository) AdvanceTwoFactorStep(ctx context.Context, userID string, step int64) (bool, error) {
	filter := bson.M{
		"_id": userID,
		"$or": bson.A{
			bson.M{"two_factor_last_step": bson.M{"$exists": false}},
			bson.M{"two_factor_last_step": bson.M{"$lt": step}},
		},
	}
	update := bson.M{"$set": bson.M{
		"two_factor_last_step": step,
		"updated_at":           time.Now().UTC(),
	}}
	result, err := r.users.UpdateOne(ctx, filter, update)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error advancing TOTP step")
		return false, err
	}
	return result.MatchedCount == 1, nil
}

func (r *UserRepository) setFields(ctx context.Context, userID string, fields bson.M) error {
	fields["updated_at"] = time.Now().UTC()
	result, err := r.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$set": fields})
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error updating user")
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrUserNotFound
	}
	return nil
}
