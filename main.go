package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"nistmatch/auth"
	"nistmatch/config"
	"nistmatch/database"
	"nistmatch/handlers"
	"nistmatch/logger"
	"nistmatch/media"
	"nistmatch/middleware"
	"nistmatch/repository"
	"nistmatch/routes"
	"nistmatch/service"
	"nistmatch/session"
)

func main() {
	// .env is optional; deployed environments set real variables.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zl, err := logger.New(cfg.IsProduction())
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	if cfg.GinMode == gin.ReleaseMode || cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	ctx := context.Background()

	mongoClient, err := database.Connect(ctx, cfg.MongoURI, zl)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Disconnect(mongoClient); err != nil {
			zl.Warn("mongodb disconnect failed", zap.Error(err))
		}
	}()

	db := mongoClient.Database(cfg.MongoDatabase)
	if err := database.EnsureIndexes(ctx, db); err != nil {
		return err
	}

	var store session.Store
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
		store = session.NewRedisStore(rdb)
		zl.Info("session store: redis", zap.String("addr", cfg.RedisAddr))
	} else {
		store = session.NewMemoryStore()
		zl.Warn("session store: in-memory, sessions are lost on restart")
	}
	sessions := session.NewManager(store, cfg.SessionTTL)

	users := repository.NewMongoUserRepository(db.Collection(database.UsersCollection), cfg.StoreTimeout)

	identity := service.NewIdentityService(users, sessions, service.Destinations{
		Default:         cfg.Redirect(cfg.DefaultRedirectPath),
		CompleteProfile: cfg.Redirect(cfg.CompleteProfilePath),
		Failure:         cfg.Redirect(cfg.FailurePath),
	}, zl)
	profiles := service.NewProfileService(users, zl)

	var uploader media.Uploader
	if cld, err := media.NewCloudinaryUploader(cfg.CloudinaryURL); err == nil {
		uploader = cld
	} else if !errors.Is(err, media.ErrNotConfigured) {
		return err
	} else {
		zl.Warn("profile picture uploads disabled, CLOUDINARY_URL not set")
	}

	provider := auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.OAuthCallbackURL)
	cookies := handlers.CookieSettings{
		SessionName: cfg.SessionCookieName,
		Secure:      cfg.CookieSecure,
		MaxAge:      cfg.SessionTTL,
	}

	if cfg.ProfileTrustPayloadID {
		zl.Warn("profile updates trust the payload id without a session")
	}

	router := routes.SetupRouter(routes.Dependencies{
		Logger:         zl,
		Sessions:       identity,
		SessionCookie:  cfg.SessionCookieName,
		AllowedOrigins: cfg.CORSOrigins,
		AuthLimiter:    middleware.NewIPRateLimiter(cfg.AuthRateLimit, time.Minute),
		Auth:           handlers.NewAuthHandler(identity, provider, auth.NewStateSigner(cfg.OAuthStateSecret, auth.DefaultStateTTL), cookies, zl),
		Users:          handlers.NewUserHandler(profiles, uploader, cfg.ProfileTrustPayloadID, zl),
		TrustPayloadID: cfg.ProfileTrustPayloadID,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zl.Info("server listening", zap.String("port", cfg.Port), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return err
	case sig := <-quit:
		zl.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("forced shutdown", zap.Error(err))
	}
	zl.Info("server stopped")
	return nil
}
