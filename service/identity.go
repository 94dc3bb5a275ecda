package service

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"nistmatch/apperror"
	"nistmatch/auth"
	"nistmatch/models"
	"nistmatch/repository"
	"nistmatch/session"
)

// SessionManager is the part of session.Manager the identity flow depends on.
type SessionManager interface {
	Create(ctx context.Context, userID string) (string, session.Session, error)
	Resolve(ctx context.Context, token string) (session.Session, error)
	Destroy(ctx context.Context, token string) error
}

// Destinations are absolute frontend URLs the login flow redirects to.
type Destinations struct {
	Default         string
	CompleteProfile string
	Failure         string
}

type LoginResult struct {
	User     models.User
	Token    string
	Session  session.Session
	Redirect string
	Created  bool
}

type IdentityService struct {
	users    repository.UserRepository
	sessions SessionManager
	dest     Destinations
	logger   *zap.Logger
}

func NewIdentityService(users repository.UserRepository, sessions SessionManager, dest Destinations, logger *zap.Logger) *IdentityService {
	return &IdentityService{users: users, sessions: sessions, dest: dest, logger: logger}
}

func (s *IdentityService) Destinations() Destinations {
	return s.dest
}

// NewUserFromIdentity maps a provider identity to the document inserted on first login.
func NewUserFromIdentity(identity auth.ExternalIdentity) models.User {
	email := strings.TrimSpace(identity.Email)
	if email == "" {
		email = models.NoEmailProvided
	}
	return models.User{
		ExternalID:   identity.Subject,
		AuthProvider: identity.Provider,
		Name:         strings.TrimSpace(identity.DisplayName),
		Email:        email,
		ProfilePic:   identity.PictureURL,
	}
}

// ResolveIdentity returns the local user for identity, creating one on first login.
// Existing users are returned as stored; provider data never overwrites them.
func (s *IdentityService) ResolveIdentity(ctx context.Context, identity auth.ExternalIdentity) (models.User, bool, error) {
	if strings.TrimSpace(identity.Subject) == "" {
		return models.User{}, false, apperror.NewUpstream("identity has no subject", nil)
	}

	user, created, err := s.users.FindOrCreateByExternalID(ctx, NewUserFromIdentity(identity))
	if err != nil {
		return models.User{}, false, apperror.NewStoreFault("find_or_create_user", identity.Provider+":"+identity.Subject, err)
	}
	if created {
		s.logger.Info("user created",
			zap.String("userId", user.ID.Hex()),
			zap.String("provider", identity.Provider),
		)
	}
	return user, created, nil
}

// CompleteLogin resolves the identity, opens a session and picks the redirect.
func (s *IdentityService) CompleteLogin(ctx context.Context, identity auth.ExternalIdentity) (LoginResult, error) {
	user, created, err := s.ResolveIdentity(ctx, identity)
	if err != nil {
		return LoginResult{}, err
	}

	token, sess, err := s.sessions.Create(ctx, user.ID.Hex())
	if err != nil {
		return LoginResult{}, apperror.NewStoreFault("create_session", user.ID.Hex(), err)
	}

	return LoginResult{
		User:     user,
		Token:    token,
		Session:  sess,
		Redirect: s.CompletionRedirect(user),
		Created:  created,
	}, nil
}

// CompletionRedirect sends users with missing required fields to the profile form.
func (s *IdentityService) CompletionRedirect(user models.User) string {
	if user.IsProfileComplete() {
		return s.dest.Default
	}
	u, err := url.Parse(s.dest.CompleteProfile)
	if err != nil {
		return s.dest.CompleteProfile + "?_id=" + url.QueryEscape(user.ID.Hex())
	}
	q := u.Query()
	q.Set("_id", user.ID.Hex())
	u.RawQuery = q.Encode()
	return u.String()
}

// CurrentUser reads the user behind a session token from the store.
func (s *IdentityService) CurrentUser(ctx context.Context, token string) (models.User, error) {
	sess, err := s.sessions.Resolve(ctx, token)
	switch {
	case errors.Is(err, session.ErrInvalidToken), errors.Is(err, session.ErrNotFound):
		return models.User{}, apperror.NewUnauthorized("no active session", nil)
	case errors.Is(err, session.ErrExpired):
		return models.User{}, apperror.NewUnauthorized("session expired", nil)
	case err != nil:
		return models.User{}, apperror.NewStoreFault("resolve_session", "", err)
	}

	id, err := primitive.ObjectIDFromHex(sess.UserID)
	if err != nil {
		_ = s.sessions.Destroy(ctx, token)
		return models.User{}, apperror.NewUnauthorized("session references malformed user id", err)
	}

	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		// The user was deleted behind a live session.
		if derr := s.sessions.Destroy(ctx, token); derr != nil {
			s.logger.Warn("failed to drop orphaned session", zap.String("userId", sess.UserID), zap.Error(derr))
		}
		return models.User{}, apperror.NewUnauthorized("session user no longer exists", nil)
	}
	if err != nil {
		return models.User{}, apperror.NewStoreFault("get_user", sess.UserID, err)
	}
	return user, nil
}

// Logout ends the session. Missing or unknown tokens are not an error.
func (s *IdentityService) Logout(ctx context.Context, token string) error {
	if err := s.sessions.Destroy(ctx, token); err != nil {
		return apperror.NewStoreFault("destroy_session", "", err)
	}
	return nil
}
