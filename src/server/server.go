// Package server wires configuration, storage, services and routes into
// the running HTTP process.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/zerovault/api/src/config"
	"github.com/zerovault/api/src/database"
	"github.com/zerovault/api/src/middleware"
	"github.com/zerovault/api/src/middleware/logic"
	auth_repo "github.com/zerovault/api/src/repository/auth"
	files_repo "github.com/zerovault/api/src/repository/files"
	keys_repo "github.com/zerovault/api/src/repository/keys"
	"github.com/zerovault/api/src/scheduler"
	"github.com/zerovault/api/src/services/content"
	"github.com/zerovault/api/src/services/operations"
	"github.com/zerovault/api/src/services/security"
)

// Server holds all dependencies for the API server.
type Server struct {
	cfg    *config.Config
	logger *logrus.Logger
	router *gin.Engine
	db     *database.DB
	redis  *database.RedisClient

	// Repositories
	userRepo   *auth_repo.UserRepository
	fileRepo   *files_repo.FileRepository
	folderRepo *files_repo.FolderRepository
	kekRepo    *keys_repo.KEKRepository

	// Services
	kekService      *security.KEKService
	sessionService  *security.SessionService
	uploadService   *content.UploadService
	downloadService *content.DownloadService
	fileService     *content.FileService
	sweeperService  *operations.SweeperService
	diskStatService *operations.DiskStatService
}

// NewServer creates and initializes all server dependencies.
func NewServer(cfg *config.Config, logger *logrus.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logger,
	}

	if err := s.initDatabase(); err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}

	s.initRepositories()

	if err := s.initServices(); err != nil {
		return nil, fmt.Errorf("service init failed: %w", err)
	}

	s.initRouter()
	s.SetupRoutes()
	s.startBackgroundWorkers()

	return s, nil
}

// initDatabase establishes the Postgres and Redis connections and applies
// the schema.
func (s *Server) initDatabase() error {
	var err error

	s.db, err = database.NewPostgresConnection(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("postgres connection failed: %w", err)
	}

	s.redis, err = database.NewRedisConnection(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("schema init failed: %w", err)
	}
	return nil
}

func (s *Server) initRepositories() {
	s.userRepo = auth_repo.NewUserRepository(s.db, s.logger)
	s.fileRepo = files_repo.NewFileRepository(s.db, s.logger)
	s.folderRepo = files_repo.NewFolderRepository(s.db, s.logger)
	s.kekRepo = keys_repo.NewKEKRepository(s.db, s.logger)
}

func (s *Server) initServices() error {
	s.kekService = security.NewKEKService(s.kekRepo, s.cfg.MasterKey, s.logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.kekService.EnsureSeed(ctx); err != nil {
		return fmt.Errorf("KEK seed failed: %w", err)
	}

	sessionDuration := time.Duration(s.cfg.SessionDurationDays) * 24 * time.Hour
	s.sessionService = security.NewSessionService(s.redis, sessionDuration, s.logger)

	uploadPool := content.NewTransferPool(content.UploadBufferSlots)
	downloadPool := content.NewTransferPool(content.DownloadBufferSlots)

	s.uploadService = content.NewUploadService(
		s.db, s.redis, s.userRepo, s.fileRepo, s.kekService,
		uploadPool, s.cfg.UploadDir, s.logger,
	)
	s.downloadService = content.NewDownloadService(
		s.redis, s.fileRepo, s.kekService,
		downloadPool, s.cfg.UploadDir, s.logger,
	)
	s.fileService = content.NewFileService(s.db, s.userRepo, s.fileRepo, s.logger)

	s.sweeperService = operations.NewSweeperService(s.redis, s.cfg.UploadDir, s.logger)
	s.diskStatService = operations.NewDiskStatService(s.cfg.UploadDir, s.logger)

	return nil
}

func (s *Server) initRouter() {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()

	rateLimiter := logic.NewRateLimiter(s.cfg)
	s.router.Use(
		middleware.Recovery(s.logger),
		middleware.CORS(s.cfg, s.logger),
		rateLimiter.Middleware(),
		middleware.RequestLogger(s.logger),
	)

	// Environment context for cookie flags
	s.router.Use(func(c *gin.Context) {
		c.Set("environment", s.cfg.Environment)
		c.Next()
	})
}

func (s *Server) startBackgroundWorkers() {
	go func() {
		if err := scheduler.StartSweepScheduler(s.sweeperService, s.logger); err != nil {
			s.logger.WithError(err).Error("Failed to start sweep scheduler")
		}
	}()
}

// Run starts the HTTP server and blocks until a shutdown signal.
func (s *Server) Run() error {
	srv := &http.Server{
		Addr:           fmt.Sprintf("0.0.0.0:%d", s.cfg.Port),
		Handler:        s.router,
		ReadTimeout:    600 * time.Second,
		WriteTimeout:   600 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		s.logger.WithField("port", s.cfg.Port).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	s.logger.Info("Shutting down server...")
	scheduler.StopScheduler()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("Server forced to shutdown")
		return err
	}

	s.logger.Info("Server exited")
	return nil
}

// Close releases database connections.
func (s *Server) Close() {
	if s.db != nil {
		s.db.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
}
