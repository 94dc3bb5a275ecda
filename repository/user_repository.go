package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"nistmatch/models"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrExternalIDRequired = errors.New("external id is required")
	ErrUpsertConflict     = errors.New("external id upsert kept conflicting")
)

const (
	maxUpsertAttempts = 3
	DefaultListLimit  = 100
)

// UserRepository is the persistence contract for user documents.
type UserRepository interface {
	// FindOrCreateByExternalID returns the user owning seed.ExternalID, inserting seed
	// if none exists. created is true only for the call that inserted it.
	FindOrCreateByExternalID(ctx context.Context, seed models.User) (user models.User, created bool, err error)
	GetByID(ctx context.Context, id primitive.ObjectID) (models.User, error)
	// UpdateProfile merges update into an existing user and returns the result.
	// It never inserts.
	UpdateProfile(ctx context.Context, id primitive.ObjectID, update models.ProfileUpdate) (models.User, error)
	List(ctx context.Context, filter map[string]string, limit int64) ([]models.User, error)
}

// MongoUserRepository implements UserRepository on a mongo collection.
type MongoUserRepository struct {
	users   *mongo.Collection
	timeout time.Duration
	now     func() time.Time
}

func NewMongoUserRepository(users *mongo.Collection, timeout time.Duration) *MongoUserRepository {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &MongoUserRepository{
		users:   users,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// opContext detaches from request cancellation but bounds the store call.
func (r *MongoUserRepository) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
}

func (r *MongoUserRepository) FindOrCreateByExternalID(ctx context.Context, seed models.User) (models.User, bool, error) {
	if seed.ExternalID == "" {
		return models.User{}, false, ErrExternalIDRequired
	}
	if seed.ID.IsZero() {
		seed.ID = primitive.NewObjectID()
	}
	now := r.now()
	seed.CreatedAt = now
	seed.UpdatedAt = now

	filter := bson.M{"externalId": seed.ExternalID}
	update := bson.M{"$setOnInsert": seed}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	// Two concurrent upserts on a new externalId can both miss the filter; the unique
	// index rejects the loser, whose retry then matches the winner's document.
	for attempt := 1; attempt <= maxUpsertAttempts; attempt++ {
		opCtx, cancel := r.opContext(ctx)
		var user models.User
		err := r.users.FindOneAndUpdate(opCtx, filter, update, opts).Decode(&user)
		cancel()

		if err == nil {
			return user, user.ID == seed.ID, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return models.User{}, false, fmt.Errorf("find or create user: %w", err)
		}
	}
	return models.User{}, false, ErrUpsertConflict
}

func (r *MongoUserRepository) GetByID(ctx context.Context, id primitive.ObjectID) (models.User, error) {
	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	var user models.User
	err := r.users.FindOne(opCtx, bson.M{"_id": id}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (r *MongoUserRepository) UpdateProfile(ctx context.Context, id primitive.ObjectID, update models.ProfileUpdate) (models.User, error) {
	set := bson.M{"updatedAt": r.now()}
	for key, value := range update {
		if models.IsProfileField(key) {
			set[key] = value
		}
	}

	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var user models.User
	err := r.users.FindOneAndUpdate(opCtx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("update profile: %w", err)
	}
	return user, nil
}

// List returns users whose allowlisted fields equal the filter values, newest first.
// Keys outside the allowlist are ignored, so query operators never reach the store.
func (r *MongoUserRepository) List(ctx context.Context, filter map[string]string, limit int64) ([]models.User, error) {
	query := bson.M{}
	for key, value := range filter {
		if models.IsProfileField(key) {
			query[key] = value
		}
	}
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}

	opCtx, cancel := r.opContext(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(limit)
	cursor, err := r.users.Find(opCtx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer cursor.Close(opCtx)

	users := []models.User{}
	if err := cursor.All(opCtx, &users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	return users, nil
}
