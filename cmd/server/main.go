package main

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"skin-analysis-backend/internal/analysis"
	"skin-analysis-backend/internal/config"
	"skin-analysis-backend/internal/database"
	"skin-analysis-backend/internal/handlers"
	"skin-analysis-backend/internal/middleware"
	"skin-analysis-backend/internal/persistence"
	"skin-analysis-backend/internal/realtime"
	"skin-analysis-backend/internal/services"
	"skin-analysis-backend/internal/supabase"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Database connection string
	dbURL := cfg.DatabaseURL
	if dbURL == "" {
		log.Fatalf("DATABASE_URL is required: set it to your Supabase PostgreSQL connection string")
	}

	// Run migrations
	migrator, err := database.NewMigrator(dbURL)
	if err != nil {
		log.Fatalf("Failed to initialize migrator: %v", err)
	}
	if err := migrator.Run(); err != nil {
		migrator.Close()
		log.Fatalf("Migration failed: %v", err)
	}
	migrator.Close()

	// Record store + persistence coordinator
	store, err := persistence.NewPostgresStore(dbURL)
	if err != nil {
		log.Fatalf("Failed to initialize record store: %v", err)
	}
	defer store.Close()

	cache := persistence.NewUserCache()
	coordinator := persistence.NewCoordinator(store, cache)
	coordinator.DedupWindow = cfg.DedupWindow
	coordinator.ScoreDeltaThreshold = cfg.ScoreDeltaThreshold
	coordinator.MaxRetries = cfg.SaveMaxRetries

	// Analyzer: remote HTTP endpoint by default, Vertex AI when configured
	var analyzer analysis.Analyzer
	switch cfg.AnalyzerProvider {
	case "vertex":
		vertexAnalyzer := analysis.NewVertexAnalyzer(cfg.VertexProjectID, cfg.VertexLocation, cfg.VertexCredentialsFile)
		if err := vertexAnalyzer.Load(context.Background()); err != nil {
			log.Fatalf("Failed to load vertex analyzer: %v", err)
		}
		defer vertexAnalyzer.Close()
		analyzer = vertexAnalyzer
	default:
		analyzer = analysis.NewClient(cfg.AnalysisAPIBaseURL, cfg.AnalysisAPIKey)
	}

	// Supabase clients
	supabaseClient, err := supabase.NewClient(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize Supabase client: %v", err)
	}
	storageClient, err := supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabasePublishableKey, cfg.SupabaseStorageBucket)
	if err != nil {
		log.Fatalf("Failed to initialize storage client: %v", err)
	}
	realtimeClient := supabase.NewRealtimeClient(supabaseClient.Supabase)

	// Websocket hub for capture/save events
	hub := realtime.NewHub()
	go hub.Run()

	// The server runs the analyze-and-save half of the pipeline; device
	// clients own the camera, so no controller or strategy runner is wired.
	captureService := services.NewAnalysisService(analyzer, coordinator, storageClient, realtimeClient, hub)

	// Handlers
	analysisHandler := handlers.NewAnalysisHandler(captureService, coordinator, store)
	eventsHandler := handlers.NewEventsHandler(hub)

	// Setup router
	router := gin.Default()
	router.Use(gin.Recovery())

	// Health check (no auth)
	router.GET("/health", handlers.HealthHandler)

	// API routes
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg))

	api.POST("/analysis", analysisHandler.Analyze)
	api.GET("/analysis", analysisHandler.List)
	api.GET("/analysis/latest", analysisHandler.Latest)
	api.GET("/analysis/:record_id", analysisHandler.Get)

	// Event stream
	ws := router.Group("/ws")
	ws.Use(middleware.AuthMiddleware(cfg))
	ws.GET("/analysis", eventsHandler.Stream)

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
