package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"nistmatch/handlers"
	"nistmatch/middleware"
)

type Dependencies struct {
	Logger         *zap.Logger
	Sessions       middleware.CurrentUserResolver
	SessionCookie  string
	AllowedOrigins []string
	AuthLimiter    *middleware.IPRateLimiter
	Auth           *handlers.AuthHandler
	Users          *handlers.UserHandler
	// TrustPayloadID skips the session requirement on profile updates.
	TrustPayloadID bool
}

func SetupRouter(deps Dependencies) *gin.Engine {
	// Profile numbers like age reach the allowlist as json.Number, not float64.
	binding.EnableDecoderUseNumber = true

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))

	// Credentials are allowed so the SPA can send the session cookie.
	router.Use(cors.New(cors.Config{
		AllowOrigins:     deps.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Requested-With", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.ErrorHandler(deps.Logger))

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/api/health", handlers.Health)

	authGroup := router.Group("/auth")
	authGroup.Use(middleware.RateLimit(deps.AuthLimiter))
	authGroup.GET("/external/start", deps.Auth.Start)
	authGroup.GET("/external/callback", deps.Auth.Callback)
	authGroup.GET("/google", deps.Auth.Start)
	authGroup.GET("/google/callback", deps.Auth.Callback)

	requireSession := middleware.RequireSession(deps.Sessions, deps.SessionCookie)
	optionalSession := middleware.OptionalSession(deps.Sessions, deps.SessionCookie)

	api := router.Group("/api")
	api.GET("/logout", deps.Auth.Logout)
	api.POST("/logout", deps.Auth.Logout)

	// The handler checks the payload id before the session so a missing id is
	// reported as 400 even for anonymous callers.
	profileGuard := optionalSession
	if deps.TrustPayloadID {
		profileGuard = func(c *gin.Context) { c.Next() }
	}
	api.POST("/profile", profileGuard, deps.Users.UpdateProfile)
	api.POST("/saveProfile", profileGuard, deps.Users.UpdateProfile)

	protected := api.Group("")
	protected.Use(requireSession)
	protected.GET("/me", deps.Users.Me)
	protected.POST("/profile/picture", deps.Users.UploadPicture)
	protected.GET("/users", deps.Users.ListUsers)

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api") {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Endpoint not found",
				"path":  c.Request.URL.Path,
			})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}
