package session

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrNotFound     = errors.New("session not found")
	ErrExpired      = errors.New("session expired")
)

const tokenBytes = 32 // 256 bits

type Session struct {
	UserID    string    `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Manager issues opaque session tokens. Only the SHA-256 of a token is stored.
type Manager struct {
	store  Store
	maxAge time.Duration
	now    func() time.Time
}

func NewManager(store Store, maxAge time.Duration) *Manager {
	return &Manager{store: store, maxAge: maxAge, now: time.Now}
}

func (m *Manager) MaxAge() time.Duration {
	return m.maxAge
}

// Create starts a session for userID and returns the token for the cookie.
func (m *Manager) Create(ctx context.Context, userID string) (string, Session, error) {
	if userID == "" {
		return "", Session{}, errors.New("user id is required")
	}
	token, err := generateToken()
	if err != nil {
		return "", Session{}, fmt.Errorf("generate session token: %w", err)
	}

	now := m.now().UTC()
	sess := Session{
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.maxAge),
	}
	if err := m.store.Save(ctx, hashToken(token), sess, m.maxAge); err != nil {
		return "", Session{}, fmt.Errorf("save session: %w", err)
	}
	return token, sess, nil
}

// Resolve returns the live session for token.
func (m *Manager) Resolve(ctx context.Context, token string) (Session, error) {
	if token == "" {
		return Session{}, ErrInvalidToken
	}
	key := hashToken(token)
	sess, err := m.store.Get(ctx, key)
	if err != nil {
		return Session{}, err
	}
	if m.now().After(sess.ExpiresAt) {
		_ = m.store.Delete(ctx, key)
		return Session{}, ErrExpired
	}
	return sess, nil
}

// Destroy removes the session for token. Unknown or empty tokens are not an error.
func (m *Manager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(ctx, hashToken(token))
}

func generateToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
