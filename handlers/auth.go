package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nistmatch/auth"
	"nistmatch/middleware"
	"nistmatch/service"
)

const stateCookiePath = "/auth"

type AuthHandler struct {
	identity *service.IdentityService
	provider auth.Provider
	state    *auth.StateSigner
	cookies  CookieSettings
	logger   *zap.Logger
}

func NewAuthHandler(identity *service.IdentityService, provider auth.Provider, state *auth.StateSigner, cookies CookieSettings, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		identity: identity,
		provider: provider,
		state:    state,
		cookies:  cookies,
		logger:   logger,
	}
}

// Start redirects the browser to the provider's consent page.
func (h *AuthHandler) Start(c *gin.Context) {
	state, nonce, err := h.state.Issue()
	if err != nil {
		h.logger.Error("failed to issue oauth state", zap.Error(err))
		c.Redirect(http.StatusFound, h.identity.Destinations().Failure)
		return
	}

	setCookie(c, stateCookieName, nonce, h.state.TTL(), stateCookiePath, h.cookies.Secure)
	c.Redirect(http.StatusFound, h.provider.AuthCodeURL(state))
}

// Callback finishes the provider round trip. The browser always ends up on a
// frontend page; failures never create a session.
func (h *AuthHandler) Callback(c *gin.Context) {
	nonce, _ := c.Cookie(stateCookieName)
	clearCookie(c, stateCookieName, stateCookiePath, h.cookies.Secure)

	if providerErr := c.Query("error"); providerErr != "" {
		h.fail(c, "provider returned error", zap.String("providerError", providerErr))
		return
	}
	if err := h.state.Verify(c.Query("state"), nonce); err != nil {
		h.fail(c, "oauth state rejected", zap.Error(err))
		return
	}
	code := c.Query("code")
	if code == "" {
		h.fail(c, "authorization code missing")
		return
	}

	ctx := c.Request.Context()
	identity, err := h.provider.Exchange(ctx, code)
	if err != nil {
		h.fail(c, "provider exchange failed", zap.String("provider", h.provider.Name()), zap.Error(err))
		return
	}

	result, err := h.identity.CompleteLogin(ctx, identity)
	if err != nil {
		h.fail(c, "login could not be completed", zap.Error(err))
		return
	}

	// The session already on this browser, if any, is replaced.
	if err := h.identity.Logout(ctx, middleware.SessionToken(c, h.cookies.SessionName)); err != nil {
		h.logger.Warn("failed to destroy previous session", zap.Error(err))
	}
	setCookie(c, h.cookies.SessionName, result.Token, h.cookies.MaxAge, "/", h.cookies.Secure)
	h.logger.Info("login completed",
		zap.String("userId", result.User.ID.Hex()),
		zap.Bool("created", result.Created),
		zap.Bool("profileComplete", result.User.IsProfileComplete()),
	)
	c.Redirect(http.StatusFound, result.Redirect)
}

func (h *AuthHandler) fail(c *gin.Context, reason string, fields ...zap.Field) {
	fields = append(fields, zap.String("requestId", middleware.RequestID(c)))
	h.logger.Warn(reason, fields...)
	c.Redirect(http.StatusFound, h.identity.Destinations().Failure)
}

// Logout ends the session if there is one and sends the browser home.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := middleware.SessionToken(c, h.cookies.SessionName)
	if err := h.identity.Logout(c.Request.Context(), token); err != nil {
		h.logger.Error("failed to destroy session", zap.Error(err))
	}
	clearCookie(c, h.cookies.SessionName, "/", h.cookies.Secure)
	c.Redirect(http.StatusFound, h.identity.Destinations().Default)
}
