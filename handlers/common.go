package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"nistmatch/models"
)

const stateCookieName = "nist_oauth_state"

// CookieSettings controls the session cookie written after login.
type CookieSettings struct {
	SessionName string
	Secure      bool
	MaxAge      time.Duration
}

func setCookie(c *gin.Context, name, value string, maxAge time.Duration, path string, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, int(maxAge.Seconds()), path, "", secure, true)
}

func clearCookie(c *gin.Context, name, path string, secure bool) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, "", -1, path, "", secure, true)
}

// UserResponse is a user document plus its derived completion state.
type UserResponse struct {
	models.User
	ProfileComplete bool     `json:"profileComplete"`
	MissingFields   []string `json:"missingFields"`
}

func NewUserResponse(u models.User) UserResponse {
	missing := u.MissingRequired()
	if missing == nil {
		missing = []string{}
	}
	return UserResponse{User: u, ProfileComplete: len(missing) == 0, MissingFields: missing}
}

func Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "nistmatch backend running",
		"service": "healthy",
	})
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}
