package main

import (
	"context"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/storyforge/storyboard-api/entitlements"
	"github.com/storyforge/storyboard-api/internal/platform"
	"github.com/storyforge/storyboard-api/services"
	"github.com/storyforge/storyboard-api/storage"
	"github.com/storyforge/storyboard-api/storyboard"
	"github.com/storyforge/storyboard-api/tasks"
	"github.com/storyforge/storyboard-api/voiceover"
	"github.com/storyforge/storyboard-api/worker"
)

func main() {
	cfg := platform.LoadConfig()

	db := platform.NewDBConnection(cfg.DatabaseURL)
	rdb := platform.NewRedisClient(cfg.RedisURL)

	blobs, err := storage.NewDiskStore(cfg.StorageDir, cfg.PublicBaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize blob store: %v", err)
	}

	elevenSvc, err := services.NewElevenLabsService(cfg.ElevenLabsAPIKey, cfg.ElevenLabsURL, rdb)
	if err != nil {
		log.Fatalf("Failed to initialize ElevenLabs client: %v", err)
	}

	flags := entitlements.NewService(db, rdb)
	processor := worker.NewProcessor(rdb)

	sceneStore := storyboard.NewStore(db)

	var classifier storyboard.Classifier
	if cfg.SceneClassifier == "ai" {
		classifier, err = storyboard.NewAIClassifier(cfg.OpenAIAPIKey)
		if err != nil {
			log.Fatalf("Failed to initialize AI classifier: %v", err)
		}
		log.Println("Using AI scene classifier")
	}
	segmenter := storyboard.NewSegmenter(classifier)
	voiceRepo := voiceover.NewGormRepo(db)
	voiceOrch := voiceover.NewOrchestrator(voiceRepo, processor, elevenSvc, blobs, flags)

	handlers := worker.NewHandlers(db, sceneStore, segmenter, voiceOrch)

	processor.Register(tasks.QueueScriptParse, handlers.HandleScriptParse)
	processor.Register(tasks.QueueVoiceoverSynthesis, handlers.HandleVoiceoverSynthesis)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Println("Worker started, waiting for queue tasks...")
	processor.Listen(ctx, tasks.QueueScriptParse, tasks.QueueVoiceoverSynthesis)
}
