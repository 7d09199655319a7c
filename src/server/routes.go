package server

import (
	"github.com/zerovault/api/src/config"
	"github.com/zerovault/api/src/handlers"
	"github.com/zerovault/api/src/handlers/auth"
	"github.com/zerovault/api/src/handlers/files"
	"github.com/zerovault/api/src/handlers/system"
	"github.com/zerovault/api/src/middleware"
	"github.com/zerovault/api/src/middleware/logic"
)

// SetupRoutes configures all HTTP routes.
func (s *Server) SetupRoutes() {
	// Public
	s.router.GET("/health", handlers.Health(s.db, s.redis, s.logger))

	s.setupAuthRoutes()
	s.setupFileRoutes()
	s.setupSystemRoutes()
}

func (s *Server) setupAuthRoutes() {
	authGroup := s.router.Group("/api/auth")
	{
		// Tighter limit on the credential endpoints
		authLimiter := logic.NewRateLimiter(&config.Config{RateLimitPerMin: 5})

		authGroup.POST("/register",
			authLimiter.Middleware(),
			auth.RegisterHandler(s.userRepo, s.sessionService, s.logger),
		)
		authGroup.POST("/login",
			authLimiter.Middleware(),
			auth.LoginHandler(s.userRepo, s.sessionService, s.logger),
		)
		authGroup.POST("/logout",
			middleware.RequireSession(s.sessionService, s.logger),
			auth.LogoutHandler(s.sessionService, s.logger),
		)
		authGroup.POST("/change-password",
			middleware.RequireSession(s.sessionService, s.logger),
			middleware.RequireCSRF(s.sessionService, s.logger),
			auth.ChangePasswordHandler(s.userRepo, s.logger),
		)
	}
}

func (s *Server) setupFileRoutes() {
	apiGroup := s.router.Group("/api")
	apiGroup.Use(
		middleware.RequireSession(s.sessionService, s.logger),
		middleware.RequireCSRF(s.sessionService, s.logger),
	)
	{
		// Chunked uploads
		apiGroup.POST("/files/upload/init", files.InitUploadHandler(s.uploadService, s.logger))
		apiGroup.POST("/files/upload/chunk", files.UploadChunkHandler(s.uploadService, s.logger))
		apiGroup.POST("/files/upload/finalize", files.FinalizeUploadHandler(s.uploadService, s.logger))
		apiGroup.POST("/files/upload/cancel", files.CancelUploadHandler(s.uploadService, s.logger))

		// Files
		apiGroup.GET("/files", files.ListFilesHandler(s.fileService, s.logger))
		apiGroup.GET("/files/:id", files.DownloadHandler(s.downloadService, s.logger))
		apiGroup.DELETE("/files/:id", files.DeleteFileHandler(s.fileService, s.logger))

		// Quota (static segments take priority over :id)
		apiGroup.GET("/files/storage/info", files.StorageInfoHandler(s.fileService, s.logger))
		apiGroup.POST("/files/recalculate-quota", files.RecalculateQuotaHandler(s.fileService, s.logger))

		// Folders
		apiGroup.POST("/folders", files.CreateFolderHandler(s.folderRepo, s.logger))
		apiGroup.GET("/folders/list", files.ListFolderContentsHandler(s.folderRepo, s.logger))
		apiGroup.GET("/folders/:id", files.GetFolderHandler(s.folderRepo, s.logger))
		apiGroup.DELETE("/folders/:id", files.DeleteFolderHandler(s.folderRepo, s.logger))
	}
}

func (s *Server) setupSystemRoutes() {
	sysGroup := s.router.Group("/api/system")
	sysGroup.Use(middleware.RequireSession(s.sessionService, s.logger))
	{
		sysGroup.GET("/storage", system.StagingStorageHandler(s.diskStatService, s.logger))
	}
}
