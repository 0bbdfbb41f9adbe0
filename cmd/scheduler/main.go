package main

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/storyforge/storyboard-api/internal/platform"
	"github.com/storyforge/storyboard-api/models"
	"github.com/storyforge/storyboard-api/storage"
	"github.com/storyforge/storyboard-api/tasks"
	"github.com/storyforge/storyboard-api/worker"
)

// The scheduler owns two maintenance loops: requeueing voiceover jobs that
// got stuck in processing (worker crash, lost task) and garbage-collecting
// voiceovers orphaned by scene deletion. Run exactly one instance.
func main() {
	cfg := platform.LoadConfig()

	db := platform.NewDBConnection(cfg.DatabaseURL)
	rdb := platform.NewRedisClient(cfg.RedisURL)

	blobs, err := storage.NewDiskStore(cfg.StorageDir, cfg.PublicBaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize blob store: %v", err)
	}

	queue := worker.NewProcessor(rdb)
	ctx := context.Background()

	c := cron.New()

	if _, err := c.AddFunc("@every 1m", func() {
		requeueStaleVoiceovers(ctx, db, queue, cfg.VoiceoverStaleAfter)
	}); err != nil {
		log.Fatalf("Failed to schedule stale-job recovery: %v", err)
	}

	if _, err := c.AddFunc("@every 1h", func() {
		collectOrphanedVoiceovers(ctx, db, blobs)
	}); err != nil {
		log.Fatalf("Failed to schedule orphan collection: %v", err)
	}

	c.Start()
	defer c.Stop()

	log.Println("Scheduler started")
	select {}
}

// requeueStaleVoiceovers finds processing records older than the threshold
// and resubmits them under a bumped generation, so a task the worker lost is
// retried and any still-running duplicate becomes a no-op on write.
func requeueStaleVoiceovers(ctx context.Context, db *gorm.DB, queue *worker.Processor, staleAfter time.Duration) {
	cutoff := time.Now().Add(-staleAfter)

	var stale []models.Voiceover
	err := db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.VoiceoverProcessing, cutoff).
		Find(&stale).Error
	if err != nil {
		log.Printf("Error querying stale voiceovers: %v", err)
		return
	}

	for _, vo := range stale {
		newGen := vo.Generation + 1
		result := db.WithContext(ctx).Model(&models.Voiceover{}).
			Where("id = ? AND generation = ?", vo.ID, vo.Generation).
			Update("generation", newGen)
		if result.Error != nil {
			log.Printf("Error bumping generation for voiceover %d: %v", vo.ID, result.Error)
			continue
		}
		if result.RowsAffected == 0 {
			// Re-requested or deleted since we read it; leave it alone.
			continue
		}

		payload := tasks.VoiceoverTaskPayload{VoiceoverID: vo.ID, Generation: newGen}
		if err := queue.Enqueue(ctx, tasks.QueueVoiceoverSynthesis, payload); err != nil {
			log.Printf("Error requeuing voiceover %d: %v", vo.ID, err)
			continue
		}
		log.Printf("Requeued stale voiceover %d (generation %d)", vo.ID, newGen)
	}
}

// collectOrphanedVoiceovers removes voiceover rows whose scene no longer
// exists, along with their audio blobs. The delete cascade handles the
// normal path; this sweep catches rows left behind by older data or crashes
// between cascade steps.
func collectOrphanedVoiceovers(ctx context.Context, db *gorm.DB, blobs storage.Store) {
	var orphans []models.Voiceover
	err := db.WithContext(ctx).
		Where("scene_id IS NOT NULL AND scene_id NOT IN (?)",
			db.Model(&models.Scene{}).Select("id")).
		Find(&orphans).Error
	if err != nil {
		log.Printf("Error querying orphaned voiceovers: %v", err)
		return
	}

	for _, vo := range orphans {
		if vo.StorageID != nil {
			if err := blobs.Delete(*vo.StorageID); err != nil {
				log.Printf("Error deleting orphaned blob %s: %v", *vo.StorageID, err)
			}
		}
		if err := db.WithContext(ctx).Delete(&models.Voiceover{}, vo.ID).Error; err != nil {
			log.Printf("Error deleting orphaned voiceover %d: %v", vo.ID, err)
			continue
		}
		log.Printf("Collected orphaned voiceover %d", vo.ID)
	}
}
