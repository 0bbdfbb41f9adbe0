package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/storyforge/storyboard-api/models"
	"github.com/storyforge/storyboard-api/storyboard"
	"github.com/storyforge/storyboard-api/tasks"
	"github.com/storyforge/storyboard-api/voiceover"
)

// Handlers holds the dependencies for all background task handlers.
type Handlers struct {
	DB        *gorm.DB
	Store     *storyboard.Store
	Segmenter *storyboard.Segmenter
	Voice     *voiceover.Orchestrator
}

func NewHandlers(db *gorm.DB, store *storyboard.Store, segmenter *storyboard.Segmenter, voice *voiceover.Orchestrator) *Handlers {
	return &Handlers{DB: db, Store: store, Segmenter: segmenter, Voice: voice}
}

// HandleScriptParse processes tasks from QueueScriptParse: it segments the
// script text and bulk-inserts the resulting scenes in one transaction.
// A script that already has scenes is skipped, so a double-enqueued parse
// cannot duplicate the storyboard.
func (h *Handlers) HandleScriptParse(ctx context.Context, payload string) error {
	var task tasks.ParseTaskPayload
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return err
	}

	log.Printf("Parsing script %d into scenes", task.ScriptID)

	var script models.Script
	if err := h.DB.WithContext(ctx).First(&script, task.ScriptID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("Script %d not found, dropping parse task", task.ScriptID)
			return nil
		}
		return err
	}
	if script.UserID != task.UserID {
		log.Printf("Script %d does not belong to user %d, dropping parse task", task.ScriptID, task.UserID)
		return nil
	}

	existing, err := h.Store.ListScenes(ctx, script.ID, script.UserID)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		log.Printf("Script %d already has %d scenes, skipping parse", script.ID, len(existing))
		return nil
	}

	drafts, err := h.Segmenter.Segment(ctx, script.Content)
	if err != nil {
		return fmt.Errorf("segment script %d: %w", script.ID, err)
	}
	if len(drafts) == 0 {
		log.Printf("Script %d produced no scenes (too short)", script.ID)
		return nil
	}

	scenes := make([]models.Scene, 0, len(drafts))
	for _, d := range drafts {
		scenes = append(scenes, d.Model(script))
	}
	if err := h.Store.CreateSceneBatch(ctx, scenes); err != nil {
		return fmt.Errorf("save scenes for script %d: %w", script.ID, err)
	}

	log.Printf("Created %d scenes for script %d", len(scenes), script.ID)
	return nil
}

// HandleVoiceoverSynthesis processes tasks from QueueVoiceoverSynthesis.
// The orchestrator records synthesis failures into the voiceover record;
// only infrastructure errors propagate here.
func (h *Handlers) HandleVoiceoverSynthesis(ctx context.Context, payload string) error {
	var task tasks.VoiceoverTaskPayload
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return err
	}

	log.Printf("Synthesizing voiceover %d (generation %d)", task.VoiceoverID, task.Generation)
	return h.Voice.Synthesize(ctx, task.VoiceoverID, task.Generation)
}
