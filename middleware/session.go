package middleware

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"nistmatch/apperror"
	"nistmatch/models"
)

const (
	ContextUserKey   = "user"
	ContextUserIDKey = "userId"
)

// CurrentUserResolver loads the user behind a session token.
type CurrentUserResolver interface {
	CurrentUser(ctx context.Context, token string) (models.User, error)
}

// SessionToken returns the raw session cookie value, or "".
func SessionToken(c *gin.Context, cookieName string) string {
	token, err := c.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return token
}

// RequireSession aborts with 401 unless the session cookie resolves to a stored user.
func RequireSession(resolver CurrentUserResolver, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := SessionToken(c, cookieName)
		if token == "" {
			c.Error(apperror.NewUnauthorized("no session cookie", nil))
			c.Abort()
			return
		}

		user, err := resolver.CurrentUser(c.Request.Context(), token)
		if err != nil {
			c.Error(err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, user)
		c.Set(ContextUserIDKey, user.ID.Hex())
		c.Next()
	}
}

// OptionalSession attaches the session user when the cookie resolves, and
// otherwise lets the request through anonymously. Store faults still abort.
func OptionalSession(resolver CurrentUserResolver, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := SessionToken(c, cookieName)
		if token == "" {
			c.Next()
			return
		}

		user, err := resolver.CurrentUser(c.Request.Context(), token)
		if errors.Is(err, apperror.ErrUnauthorized) {
			c.Next()
			return
		}
		if err != nil {
			c.Error(err)
			c.Abort()
			return
		}

		c.Set(ContextUserKey, user)
		c.Set(ContextUserIDKey, user.ID.Hex())
		c.Next()
	}
}

func GetUser(c *gin.Context) (models.User, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return models.User{}, false
	}
	user, ok := v.(models.User)
	return user, ok
}

func GetUserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
