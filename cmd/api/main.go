package main

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/storyforge/storyboard-api/auth"
	"github.com/storyforge/storyboard-api/entitlements"
	"github.com/storyforge/storyboard-api/internal/platform"
	"github.com/storyforge/storyboard-api/models"
	"github.com/storyforge/storyboard-api/services"
	"github.com/storyforge/storyboard-api/storage"
	"github.com/storyforge/storyboard-api/storyboard"
	"github.com/storyforge/storyboard-api/voiceover"
	"github.com/storyforge/storyboard-api/worker"
)

type Server struct {
	Config *platform.Config
	DB     *gorm.DB
	Redis  *redis.Client
	Router *gin.Engine
	Blobs  *storage.DiskStore
}

func NewServer() (*Server, error) {
	cfg := platform.LoadConfig()

	db := platform.NewDBConnection(cfg.DatabaseURL)
	rdb := platform.NewRedisClient(cfg.RedisURL)

	if err := db.AutoMigrate(&models.User{}, &models.Script{}, &models.Scene{}, &models.Voiceover{}); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	blobs, err := storage.NewDiskStore(cfg.StorageDir, cfg.PublicBaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize blob store: %v", err)
	}

	openaiSvc, err := services.NewOpenAIService(cfg.OpenAIAPIKey)
	if err != nil {
		log.Fatalf("Failed to initialize OpenAI client: %v", err)
	}
	elevenSvc, err := services.NewElevenLabsService(cfg.ElevenLabsAPIKey, cfg.ElevenLabsURL, rdb)
	if err != nil {
		log.Fatalf("Failed to initialize ElevenLabs client: %v", err)
	}

	flags := entitlements.NewService(db, rdb)
	queue := worker.NewProcessor(rdb)

	sceneStore := storyboard.NewStore(db)
	voiceRepo := voiceover.NewGormRepo(db)
	voiceOrch := voiceover.NewOrchestrator(voiceRepo, queue, elevenSvc, blobs, flags)
	voiceProj := voiceover.NewProjection(voiceRepo, blobs)
	imageOrch := storyboard.NewImageOrchestrator(sceneStore, openaiSvc, openaiSvc, blobs, flags)

	router := gin.Default()

	// CORS for the frontend
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", os.Getenv("FRONTEND_URL"))
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PATCH, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	server := &Server{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Router: router,
		Blobs:  blobs,
	}

	storyboardHandler := storyboard.NewHandler(sceneStore, imageOrch, voiceOrch, queue)
	voiceoverHandler := voiceover.NewHandler(voiceOrch, voiceProj, elevenSvc, cfg.WebhookSecret)

	server.setupRoutes(storyboardHandler, voiceoverHandler)
	return server, nil
}

func (s *Server) setupRoutes(sb *storyboard.Handler, vo *voiceover.Handler) {
	// Health check (no auth required)
	s.Router.GET("/health", func(c *gin.Context) {
		sqlDB, err := s.DB.DB()
		if err != nil {
			c.JSON(500, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		if err := sqlDB.Ping(); err != nil {
			c.JSON(500, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{
			"status":   "healthy",
			"database": "connected",
		})
	})

	// Blob serving (public - storage IDs are unguessable)
	s.Router.GET("/files/:id", func(c *gin.Context) {
		path := s.Blobs.Path(c.Param("id"))
		if _, err := os.Stat(path); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
			return
		}
		c.File(path)
	})

	// Webhook routes (public - no session auth, shared secret verified in handler)
	webhookRoutes := s.Router.Group("/webhooks")
	{
		webhookRoutes.POST("/voiceover", vo.HandleCallback)
	}

	// Protected routes that require authentication
	protected := s.Router.Group("")
	protected.Use(auth.AuthMiddleware())
	{
		scriptRoutes := protected.Group("/scripts")
		{
			scriptRoutes.GET("/:id/scenes", sb.ListScenes)
			scriptRoutes.POST("/:id/scenes", sb.CreateScene)
			scriptRoutes.POST("/:id/scenes/parse", sb.ParseScript)
			scriptRoutes.GET("/:id/voiceovers", vo.ListVoiceovers)
		}

		sceneRoutes := protected.Group("/scenes")
		{
			sceneRoutes.PATCH("/:id", sb.UpdateScene)
			sceneRoutes.DELETE("/:id", sb.DeleteScene)
			sceneRoutes.POST("/:id/image", sb.GenerateSceneImage)
			sceneRoutes.GET("/:id/voiceover", vo.GetSceneVoiceover)
		}

		voiceoverRoutes := protected.Group("/voiceovers")
		{
			voiceoverRoutes.POST("", vo.RequestVoiceover)
			voiceoverRoutes.DELETE("/:id", vo.DeleteVoiceover)
		}

		protected.GET("/voices", vo.ListVoices)
	}
}

func (s *Server) Run() error {
	log.Printf("Server starting on port %s", s.Config.Port)
	return s.Router.Run(":" + s.Config.Port)
}

func main() {
	server, err := NewServer()
	if err != nil {
		log.Fatal("Failed to create server:", err)
	}

	if err := server.Run(); err != nil {
		log.Fatal("Failed to run server:", err)
	}
}
