package service

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"nistmatch/apperror"
	"nistmatch/models"
	"nistmatch/repository"
)

type ProfileService struct {
	users  repository.UserRepository
	logger *zap.Logger
}

func NewProfileService(users repository.UserRepository, logger *zap.Logger) *ProfileService {
	return &ProfileService{users: users, logger: logger}
}

func parseUserID(raw string) (primitive.ObjectID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return primitive.NilObjectID, apperror.NewInvalidInput("User ID is required", nil)
	}
	id, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return primitive.NilObjectID, apperror.NewInvalidInput("User ID is malformed", err)
	}
	return id, nil
}

// UpdateProfile merges the allowlisted fields of payload into the user with the
// given id. The user must already exist.
func (s *ProfileService) UpdateProfile(ctx context.Context, rawID string, payload map[string]any) (models.User, error) {
	id, err := parseUserID(rawID)
	if err != nil {
		return models.User{}, err
	}

	update, err := models.NewProfileUpdate(payload)
	if err != nil {
		return models.User{}, apperror.NewInvalidInput(err.Error(), err)
	}

	user, err := s.users.UpdateProfile(ctx, id, update)
	if errors.Is(err, repository.ErrNotFound) {
		return models.User{}, apperror.NewNotFound("user", id.Hex())
	}
	if err != nil {
		return models.User{}, apperror.NewStoreFault("update_profile", id.Hex(), err)
	}

	s.logger.Info("profile updated",
		zap.String("userId", id.Hex()),
		zap.Strings("fields", update.Keys()),
	)
	return user, nil
}

// SetProfilePic stores an uploaded picture URL on the user.
func (s *ProfileService) SetProfilePic(ctx context.Context, rawID, pictureURL string) (models.User, error) {
	return s.UpdateProfile(ctx, rawID, map[string]any{"profilePic": pictureURL})
}

func (s *ProfileService) List(ctx context.Context, filter map[string]string, limit int64) ([]models.User, error) {
	users, err := s.users.List(ctx, filter, limit)
	if err != nil {
		return nil, apperror.NewStoreFault("list_users", "", err)
	}
	return users, nil
}
