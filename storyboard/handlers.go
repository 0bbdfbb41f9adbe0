package storyboard

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/storyforge/storyboard-api/entitlements"
	"github.com/storyforge/storyboard-api/models"
	"github.com/storyforge/storyboard-api/tasks"
)

// Queue submits background work. Satisfied by worker.Processor.
type Queue interface {
	Enqueue(ctx context.Context, queueName string, payload interface{}) error
}

// VoiceoverCleaner removes a scene's voiceover during the delete cascade.
// Satisfied by voiceover.Orchestrator.
type VoiceoverCleaner interface {
	DeleteForScene(ctx context.Context, sceneID, userID uint) error
}

// SceneService is the persistence surface the HTTP handlers use. *Store
// satisfies it; tests substitute an in-memory fake.
type SceneService interface {
	GetScript(ctx context.Context, scriptID, userID uint) (*models.Script, error)
	ListScenes(ctx context.Context, scriptID, userID uint) ([]models.Scene, error)
	GetScene(ctx context.Context, sceneID, userID uint) (*models.Scene, error)
	CreateScene(ctx context.Context, scene *models.Scene) error
	UpdateScene(ctx context.Context, sceneID, userID uint, updates map[string]interface{}) error
	DeleteScene(ctx context.Context, sceneID, userID uint) error
}

type Handler struct {
	Store  SceneService
	Images *ImageOrchestrator
	Voice  VoiceoverCleaner
	Queue  Queue
}

func NewHandler(store SceneService, images *ImageOrchestrator, voice VoiceoverCleaner, queue Queue) *Handler {
	return &Handler{Store: store, Images: images, Voice: voice, Queue: queue}
}

// ListScenes returns the script's scenes in ascending scene-index order.
func (h *Handler) ListScenes(c *gin.Context) {
	scriptID, ok := pathID(c)
	if !ok {
		return
	}
	userID := c.GetUint("user_id")

	scenes, err := h.Store.ListScenes(c.Request.Context(), scriptID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve scenes"})
		return
	}
	c.JSON(http.StatusOK, scenes)
}

// ParseScript queues segmentation of the script into scenes and returns
// immediately; the worker does the splitting and bulk insert.
func (h *Handler) ParseScript(c *gin.Context) {
	scriptID, ok := pathID(c)
	if !ok {
		return
	}
	userID := c.GetUint("user_id")

	if _, err := h.Store.GetScript(c.Request.Context(), scriptID, userID); err != nil {
		respondStoreError(c, err, "Script not found")
		return
	}

	payload := tasks.ParseTaskPayload{ScriptID: scriptID, UserID: userID}
	if err := h.Queue.Enqueue(c.Request.Context(), tasks.QueueScriptParse, payload); err != nil {
		log.Printf("Error queuing script parse for script %d: %v", scriptID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue parsing"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

type createSceneBody struct {
	SceneIndex     int      `json:"scene_index"`
	SceneName      string   `json:"scene_name" binding:"required"`
	SceneContent   string   `json:"scene_content" binding:"required"`
	ContentType    string   `json:"content_type" binding:"required"`
	Emotion        *string  `json:"emotion"`
	VisualElements []string `json:"visual_elements"`
	Notes          *string  `json:"notes"`
	Duration       *int     `json:"duration"`
	VideoID        string   `json:"video_id"`
}

// CreateScene inserts a single scene into the script's storyboard.
func (h *Handler) CreateScene(c *gin.Context) {
	scriptID, ok := pathID(c)
	if !ok {
		return
	}
	userID := c.GetUint("user_id")

	var req createSceneBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.Store.GetScript(c.Request.Context(), scriptID, userID); err != nil {
		respondStoreError(c, err, "Script not found")
		return
	}

	scene := models.Scene{
		ScriptID:     scriptID,
		UserID:       userID,
		VideoID:      req.VideoID,
		SceneIndex:   req.SceneIndex,
		SceneName:    req.SceneName,
		SceneContent: req.SceneContent,
		ContentType:  models.SceneContentType(req.ContentType),
		Emotion:      req.Emotion,
		Notes:        req.Notes,
		Duration:     req.Duration,
	}
	if len(req.VisualElements) > 0 {
		raw, err := json.Marshal(req.VisualElements)
		if err == nil {
			scene.VisualElements = datatypes.JSON(raw)
		}
	}

	if err := h.Store.CreateScene(c.Request.Context(), &scene); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, scene)
}

type updateSceneBody struct {
	SceneName      *string   `json:"scene_name"`
	SceneContent   *string   `json:"scene_content"`
	ContentType    *string   `json:"content_type"`
	Emotion        *string   `json:"emotion"`
	VisualElements *[]string `json:"visual_elements"`
	Notes          *string   `json:"notes"`
	Duration       *int      `json:"duration"`
}

// UpdateScene applies a partial edit: only fields present in the body
// change.
func (h *Handler) UpdateScene(c *gin.Context) {
	sceneID, ok := pathID(c)
	if !ok {
		return
	}
	userID := c.GetUint("user_id")

	var req updateSceneBody
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updates := map[string]interface{}{}
	if req.SceneName != nil {
		updates["scene_name"] = *req.SceneName
	}
	if req.SceneContent != nil {
		updates["scene_content"] = *req.SceneContent
	}
	if req.ContentType != nil {
		updates["content_type"] = models.SceneContentType(*req.ContentType)
	}
	if req.Emotion != nil {
		updates["emotion"] = *req.Emotion
	}
	if req.VisualElements != nil {
		raw, err := json.Marshal(*req.VisualElements)
		if err == nil {
			updates["visual_elements"] = datatypes.JSON(raw)
		}
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	if req.Duration != nil {
		updates["duration"] = *req.Duration
	}

	if err := h.Store.UpdateScene(c.Request.Context(), sceneID, userID, updates); err != nil {
		respondStoreError(c, err, "Scene not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// DeleteScene removes the scene and cascades to its voiceover. Scene
// indexes of the survivors are not renumbered.
func (h *Handler) DeleteScene(c *gin.Context) {
	sceneID, ok := pathID(c)
	if !ok {
		return
	}
	userID := c.GetUint("user_id")

	// Ownership first, cascade second: a non-owner must get the same 404 a
	// missing scene gets, not a cascade error.
	if _, err := h.Store.GetScene(c.Request.Context(), sceneID, userID); err != nil {
		respondStoreError(c, err, "Scene not found")
		return
	}

	if err := h.Voice.DeleteForScene(c.Request.Context(), sceneID, userID); err != nil {
		log.Printf("Error cleaning up voiceover for scene %d: %v", sceneID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete scene"})
		return
	}

	if err := h.Store.DeleteScene(c.Request.Context(), sceneID, userID); err != nil {
		respondStoreError(c, err, "Scene not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type generateImageBody struct {
	Reference string `json:"reference"`
}

// GenerateSceneImage runs the synchronous image generation flow for the
// scene and returns the new storage ID.
func (h *Handler) GenerateSceneImage(c *gin.Context) {
	sceneID, ok := pathID(c)
	if !ok {
		return
	}
	userID := c.GetUint("user_id")

	var req generateImageBody
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.Images.GenerateSceneImage(c.Request.Context(), GenerateImageRequest{
		SceneID:   sceneID,
		UserID:    userID,
		Reference: req.Reference,
	})
	if err != nil {
		switch err {
		case entitlements.ErrNotEntitled:
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "upgrade_required": true})
		case ErrNotFound, ErrUnauthorized:
			c.JSON(http.StatusNotFound, gin.H{"error": "Scene not found"})
		default:
			log.Printf("Error generating image for scene %d: %v", sceneID, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Image generation failed"})
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

func respondStoreError(c *gin.Context, err error, notFoundMsg string) {
	// Not-yours and not-found share a response shape to avoid leaking
	// existence.
	if err == ErrNotFound || err == ErrUnauthorized {
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMsg})
		return
	}
	log.Printf("Storyboard store error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
}

func pathID(c *gin.Context) (uint, bool) {
	raw, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid ID"})
		return 0, false
	}
	return uint(raw), true
}
