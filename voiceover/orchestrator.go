package voiceover

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/storyforge/storyboard-api/entitlements"
	"github.com/storyforge/storyboard-api/models"
	"github.com/storyforge/storyboard-api/services"
	"github.com/storyforge/storyboard-api/storage"
	"github.com/storyforge/storyboard-api/tasks"
)

// Queue submits a unit of work for asynchronous execution. Satisfied by
// worker.Processor.
type Queue interface {
	Enqueue(ctx context.Context, queueName string, payload interface{}) error
}

const defaultVoiceProvider = "elevenlabs"

// Orchestrator owns the voiceover job lifecycle: non-blocking request,
// out-of-band synthesis, webhook completion, deletion. Request returns as
// soon as the placeholder record exists and the job is queued; callers treat
// processing as the expected state immediately after, not an error.
type Orchestrator struct {
	Repo   Repo
	Queue  Queue
	Speech services.SpeechSynthesizer
	Blobs  storage.Store
	Flags  entitlements.Checker
}

func NewOrchestrator(repo Repo, queue Queue, speech services.SpeechSynthesizer, blobs storage.Store, flags entitlements.Checker) *Orchestrator {
	return &Orchestrator{Repo: repo, Queue: queue, Speech: speech, Blobs: blobs, Flags: flags}
}

// RequestVoiceoverParams describes one synthesis request. SceneID nil means
// a whole-script voiceover; with a SceneID, requesting again reuses the
// scene's existing record instead of creating a duplicate.
type RequestVoiceoverParams struct {
	ScriptID      uint
	SceneID       *uint
	UserID        uint
	VideoID       string
	Text          string
	VoiceName     string
	VoiceProvider string
}

// RequestVoiceover creates or reuses the record in processing state, sets
// the scene back-reference, queues synthesis, and returns the job ID.
func (o *Orchestrator) RequestVoiceover(ctx context.Context, p RequestVoiceoverParams) (uint, error) {
	enabled, err := o.Flags.CheckFlag(ctx, p.UserID, entitlements.FlagVoiceoverGeneration)
	if err != nil {
		return 0, fmt.Errorf("entitlement check: %w", err)
	}
	if !enabled {
		return 0, entitlements.ErrNotEntitled
	}

	if p.Text == "" {
		return 0, fmt.Errorf("voiceover text must not be empty")
	}
	if p.VoiceName == "" {
		return 0, fmt.Errorf("voice name must not be empty")
	}
	provider := p.VoiceProvider
	if provider == "" {
		provider = defaultVoiceProvider
	}

	vo := &models.Voiceover{
		ScriptID:      p.ScriptID,
		SceneID:       p.SceneID,
		UserID:        p.UserID,
		VideoID:       p.VideoID,
		VoiceName:     p.VoiceName,
		VoiceProvider: provider,
		Text:          p.Text,
		Status:        models.VoiceoverProcessing,
	}

	if p.SceneID != nil {
		// Reject before any write: find-or-reuse and the back-reference
		// update are keyed by scene ID alone, so the caller must own the
		// scene it names.
		if err := o.Repo.VerifyScene(ctx, *p.SceneID, p.UserID); err != nil {
			return 0, err
		}
		if err := o.Repo.FindOrReuseForScene(ctx, vo); err != nil {
			return 0, fmt.Errorf("find or reuse voiceover: %w", err)
		}
		// Back-reference is set before the audio exists so the scene's
		// "current voiceover" query is a single stable record from here on.
		if err := o.Repo.SetSceneVoiceover(ctx, *p.SceneID, &vo.ID); err != nil {
			return 0, fmt.Errorf("link scene voiceover: %w", err)
		}
	} else {
		if err := o.Repo.VerifyScript(ctx, p.ScriptID, p.UserID); err != nil {
			return 0, err
		}
		if err := o.Repo.Create(ctx, vo); err != nil {
			return 0, fmt.Errorf("create voiceover: %w", err)
		}
	}

	payload := tasks.VoiceoverTaskPayload{VoiceoverID: vo.ID, Generation: vo.Generation}
	if err := o.Queue.Enqueue(ctx, tasks.QueueVoiceoverSynthesis, payload); err != nil {
		o.fail(ctx, vo.ID, vo.Generation, "failed to queue synthesis job")
		return 0, fmt.Errorf("enqueue synthesis: %w", err)
	}

	o.Flags.Track(ctx, entitlements.EventVoiceoverGeneration, p.UserID)
	return vo.ID, nil
}

// Synthesize is the background job body. It re-fetches the record by ID (the
// queue payload carries only durable values), so stale in-memory state can't
// leak in. Synthesis failures are captured into the record, never returned:
// the caller already got its response, the record is the error channel.
func (o *Orchestrator) Synthesize(ctx context.Context, voiceoverID, generation uint) error {
	vo, err := o.Repo.Get(ctx, voiceoverID)
	if err != nil {
		if err == ErrNotFound {
			log.Printf("Voiceover %d deleted before synthesis, skipping", voiceoverID)
			return nil
		}
		return err
	}
	if vo.Generation != generation {
		log.Printf("Voiceover %d superseded (generation %d != %d), skipping", voiceoverID, vo.Generation, generation)
		return nil
	}

	audio, err := o.Speech.Synthesize(ctx, vo.VoiceName, vo.Text)
	if err != nil {
		o.fail(ctx, voiceoverID, generation, fmt.Sprintf("speech synthesis failed: %v", err))
		return nil
	}
	if len(audio) == 0 {
		o.fail(ctx, voiceoverID, generation, "speech synthesis returned empty audio")
		return nil
	}

	o.complete(ctx, voiceoverID, generation, audio, nil, vo.Text)
	return nil
}

// CallbackParams is the webhook payload posted by an external synthesis
// worker when it finishes a job out-of-process.
type CallbackParams struct {
	VoiceoverID  uint   `json:"voiceoverId" binding:"required"`
	Success      bool   `json:"success"`
	AudioBase64  string `json:"audioBase64"`
	Duration     *int   `json:"duration"`
	ErrorMessage string `json:"errorMessage"`
}

// HandleCallback runs the same completion/failure transition as the worker,
// keyed by the voiceover ID.
func (o *Orchestrator) HandleCallback(ctx context.Context, p CallbackParams) error {
	vo, err := o.Repo.Get(ctx, p.VoiceoverID)
	if err != nil {
		return err
	}

	if !p.Success {
		msg := p.ErrorMessage
		if msg == "" {
			msg = "external synthesis failed"
		}
		o.fail(ctx, vo.ID, vo.Generation, msg)
		return nil
	}

	audio, err := base64.StdEncoding.DecodeString(p.AudioBase64)
	if err != nil || len(audio) == 0 {
		o.fail(ctx, vo.ID, vo.Generation, "callback carried no decodable audio")
		return nil
	}

	o.complete(ctx, vo.ID, vo.Generation, audio, p.Duration, vo.Text)
	return nil
}

// complete stores the audio and flips the record to completed in one guarded
// update. If the record was deleted or re-requested meanwhile, the freshly
// stored blob is removed again so nothing is orphaned.
func (o *Orchestrator) complete(ctx context.Context, id, generation uint, audio []byte, durationOverride *int, text string) {
	storageID, err := o.Blobs.Put(ctx, audio, "audio/mpeg")
	if err != nil {
		o.fail(ctx, id, generation, fmt.Sprintf("failed to store audio: %v", err))
		return
	}

	duration := EstimateDuration(text)
	if durationOverride != nil && *durationOverride > 0 {
		duration = *durationOverride
	}

	err = o.Repo.UpdateGuarded(ctx, id, generation, map[string]interface{}{
		"storage_id":    storageID,
		"duration":      duration,
		"status":        models.VoiceoverCompleted,
		"error_message": nil,
	})
	if err != nil {
		if err == ErrSuperseded {
			log.Printf("Voiceover %d superseded during completion, discarding audio", id)
			if delErr := o.Blobs.Delete(storageID); delErr != nil {
				log.Printf("Error discarding audio blob %s: %v", storageID, delErr)
			}
			return
		}
		log.Printf("Error completing voiceover %d: %v", id, err)
	}
}

// fail records the failure. The scene back-reference is intentionally left
// in place so the UI can show the failed record and offer a retry that
// reuses the same job identity.
func (o *Orchestrator) fail(ctx context.Context, id, generation uint, message string) {
	err := o.Repo.UpdateGuarded(ctx, id, generation, map[string]interface{}{
		"status":        models.VoiceoverFailed,
		"error_message": message,
		"storage_id":    nil,
		"duration":      nil,
	})
	if err != nil && err != ErrSuperseded {
		log.Printf("Error marking voiceover %d failed: %v", id, err)
	}
}

// Delete removes the blob if present, clears the owning scene's
// back-reference, and deletes the record. An in-flight job for the record is
// not cancelled; the generation guard turns its eventual write into a no-op.
func (o *Orchestrator) Delete(ctx context.Context, voiceoverID, userID uint) error {
	vo, err := o.Repo.GetOwned(ctx, voiceoverID, userID)
	if err != nil {
		return err
	}

	if vo.StorageID != nil {
		if err := o.Blobs.Delete(*vo.StorageID); err != nil {
			log.Printf("Error deleting audio blob %s: %v", *vo.StorageID, err)
		}
	}
	if vo.SceneID != nil {
		if err := o.Repo.SetSceneVoiceover(ctx, *vo.SceneID, nil); err != nil {
			return fmt.Errorf("clear scene voiceover: %w", err)
		}
	}
	return o.Repo.Delete(ctx, voiceoverID)
}

// DeleteForScene removes the scene's voiceover if one exists. Used by the
// scene-deletion cascade.
func (o *Orchestrator) DeleteForScene(ctx context.Context, sceneID, userID uint) error {
	vo, err := o.Repo.FindByScene(ctx, sceneID)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return err
	}
	return o.Delete(ctx, vo.ID, userID)
}

// EstimateDuration approximates playback length from word count at 150 words
// per minute, minimum one second. A placeholder for real audio analysis.
func EstimateDuration(text string) int {
	words := len(strings.Fields(text))
	seconds := int(math.Round(float64(words) / 150 * 60))
	if seconds < 1 {
		return 1
	}
	return seconds
}
