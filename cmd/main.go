package main

import (
	"context"
	"fmt"
	"os"

	"github.com/9963KK/aiedu-backend/internal/clients/asr"
	"github.com/9963KK/aiedu-backend/internal/clients/gcp"
	"github.com/9963KK/aiedu-backend/internal/clients/mineru"
	"github.com/9963KK/aiedu-backend/internal/clients/openai"
	redisbus "github.com/9963KK/aiedu-backend/internal/clients/redis"
	"github.com/9963KK/aiedu-backend/internal/clients/vqa"
	"github.com/9963KK/aiedu-backend/internal/db"
	"github.com/9963KK/aiedu-backend/internal/handlers"
	"github.com/9963KK/aiedu-backend/internal/logger"
	"github.com/9963KK/aiedu-backend/internal/repos"
	"github.com/9963KK/aiedu-backend/internal/server"
	"github.com/9963KK/aiedu-backend/internal/services"
	"github.com/9963KK/aiedu-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := context.Background()

	// Database
	dbService, err := db.NewService(log)
	if err != nil {
		log.Error("Database init failed", "error", err)
		os.Exit(1)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		log.Error("Auto migration failed", "error", err)
		os.Exit(1)
	}
	gdb := dbService.DB()

	// Repos
	log.Info("Setting up repos...")
	materialRepo := repos.NewMaterialRepo(gdb, log)
	materialChunkRepo := repos.NewMaterialChunkRepo(gdb, log)
	parseProgressRepo := repos.NewParseProgressRepo(gdb, log)
	parseErrorRepo := repos.NewParseErrorRepo(gdb, log)

	// Progress fan-out (optional)
	progressBus, err := redisbus.NewProgressBus(ctx, log)
	if err != nil {
		log.Warn("Redis progress bus init failed, continuing without fan-out", "error", err)
	}

	// Extraction backends
	log.Info("Setting up extraction backends...")
	mineruClient := mineru.New(log)

	var documentParser services.DocumentParser = mineruClient
	if utils.GetEnv("DOC_PARSER_PROVIDER", "mineru", log) == "docai" {
		docaiClient, err := gcp.NewDocAIClient(ctx, log)
		if err != nil {
			log.Error("Document AI init failed", "error", err)
			os.Exit(1)
		}
		documentParser = docaiClient
	}

	var transcriber services.Transcriber = asr.New(log)
	if utils.GetEnv("SPEECH_PROVIDER", "asr", log) == "gcp" {
		speechClient, err := gcp.NewSpeechClient(ctx, log)
		if err != nil {
			log.Error("Cloud Speech init failed", "error", err)
			os.Exit(1)
		}
		transcriber = speechClient
	}

	var visionRouter services.VisionRouter
	if utils.GetEnv("VISION_ROUTER", "remote", log) == "heuristic" {
		hintsClient, err := gcp.NewVisionHintsClient(ctx, log)
		if err != nil {
			log.Error("Cloud Vision init failed", "error", err)
			os.Exit(1)
		}
		visionRouter = services.NewHeuristicVisionRouter(log, hintsClient)
	} else {
		visionRouter = services.NewRemoteVisionRouter(log, vqa.New(log))
	}

	// Services
	log.Info("Setting up services...")
	blobService, err := services.NewBlobService(log)
	if err != nil {
		log.Error("Blob store init failed", "error", err)
		os.Exit(1)
	}
	ledger := services.NewStatusLedger(log, materialRepo, parseProgressRepo, parseErrorRepo, progressBus)
	chunkStore := services.NewChunkStore(log, gdb, materialChunkRepo, materialRepo)
	materialService := services.NewMaterialService(log, gdb, materialRepo, parseProgressRepo, parseErrorRepo, chunkStore, blobService)
	parseService := services.NewParseService(log, ledger, blobService, chunkStore, visionRouter, documentParser, mineruClient, transcriber)
	llmService := services.NewLLMService(log, openai.New(log))

	// Handlers
	log.Info("Setting up handlers...")
	materialHandler := handlers.NewMaterialHandler(log, materialService, parseService, chunkStore, ledger)
	llmHandler := handlers.NewLLMHandler(log, llmService)

	// Router
	log.Info("Setting up router...")
	router := server.NewRouter(log, server.RouterConfig{
		MaterialHandler: materialHandler,
		LLMHandler:      llmHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
