package voiceover

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/storyforge/storyboard-api/entitlements"
	"github.com/storyforge/storyboard-api/services"
)

type Handler struct {
	Orch   *Orchestrator
	Proj   *Projection
	Voices *services.ElevenLabsService

	// WebhookSecret authenticates the external synthesis callback.
	WebhookSecret string
}

func NewHandler(orch *Orchestrator, proj *Projection, voices *services.ElevenLabsService, webhookSecret string) *Handler {
	return &Handler{Orch: orch, Proj: proj, Voices: voices, WebhookSecret: webhookSecret}
}

type requestVoiceoverBody struct {
	ScriptID      uint   `json:"script_id" binding:"required"`
	SceneID       *uint  `json:"scene_id"`
	VideoID       string `json:"video_id"`
	Text          string `json:"text" binding:"required"`
	VoiceName     string `json:"voice_name" binding:"required"`
	VoiceProvider string `json:"voice_provider"`
}

// RequestVoiceover accepts the synthesis request and returns immediately
// with the job ID; clients poll the projection for completion.
func (h *Handler) RequestVoiceover(c *gin.Context) {
	userID := c.GetUint("user_id")
	var req requestVoiceoverBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	voiceoverID, err := h.Orch.RequestVoiceover(c.Request.Context(), RequestVoiceoverParams{
		ScriptID:      req.ScriptID,
		SceneID:       req.SceneID,
		UserID:        userID,
		VideoID:       req.VideoID,
		Text:          req.Text,
		VoiceName:     req.VoiceName,
		VoiceProvider: req.VoiceProvider,
	})
	if err != nil {
		switch err {
		case entitlements.ErrNotEntitled:
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "upgrade_required": true})
		case ErrNotFound, ErrUnauthorized:
			// Not-yours reads as not-found from outside.
			c.JSON(http.StatusNotFound, gin.H{"error": "Script or scene not found"})
		default:
			log.Printf("Error requesting voiceover: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to request voiceover"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"voiceover_id": voiceoverID, "status": "processing"})
}

// GetSceneVoiceover returns the scene's voiceover with a resolved playback
// URL, or a JSON null body when the scene has none.
func (h *Handler) GetSceneVoiceover(c *gin.Context) {
	sceneID, ok := pathID(c)
	if !ok {
		return
	}
	userID := c.GetUint("user_id")

	view, err := h.Proj.GetSceneVoiceover(c.Request.Context(), sceneID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve voiceover"})
		return
	}
	if view == nil {
		c.JSON(http.StatusOK, nil)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) ListVoiceovers(c *gin.Context) {
	scriptID, ok := pathID(c)
	if !ok {
		return
	}
	userID := c.GetUint("user_id")

	views, err := h.Proj.ListVoiceovers(c.Request.Context(), scriptID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve voiceovers"})
		return
	}
	c.JSON(http.StatusOK, views)
}

func (h *Handler) DeleteVoiceover(c *gin.Context) {
	voiceoverID, ok := pathID(c)
	if !ok {
		return
	}
	userID := c.GetUint("user_id")

	if err := h.Orch.Delete(c.Request.Context(), voiceoverID, userID); err != nil {
		// Ownership mismatch reads as not-found from outside.
		if err == ErrNotFound || err == ErrUnauthorized {
			c.JSON(http.StatusNotFound, gin.H{"error": "Voiceover not found"})
			return
		}
		log.Printf("Error deleting voiceover %d: %v", voiceoverID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete voiceover"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListVoices exposes the available synthesis voices for the picker.
func (h *Handler) ListVoices(c *gin.Context) {
	voices, err := h.Voices.Voices(c.Request.Context())
	if err != nil {
		log.Printf("Error listing voices: %v", err)
		c.JSON(http.StatusOK, []services.Voice{})
		return
	}
	c.JSON(http.StatusOK, voices)
}

// HandleCallback is the public webhook an external synthesis worker posts
// results to. No session auth; a shared secret header is verified instead.
func (h *Handler) HandleCallback(c *gin.Context) {
	secret := c.GetHeader("X-Webhook-Secret")
	if h.WebhookSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.WebhookSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid webhook secret"})
		return
	}

	var params CallbackParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Orch.HandleCallback(c.Request.Context(), params); err != nil {
		if err == ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Voiceover not found"})
			return
		}
		log.Printf("Error handling voiceover callback: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process callback"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func pathID(c *gin.Context) (uint, bool) {
	raw, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return uint(raw), true
}
