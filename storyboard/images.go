package storyboard

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/storyforge/storyboard-api/entitlements"
	"github.com/storyforge/storyboard-api/models"
	"github.com/storyforge/storyboard-api/services"
	"github.com/storyforge/storyboard-api/storage"
)

// SceneStore is the slice of the scene store the image orchestrator needs.
// *Store satisfies it; tests substitute an in-memory fake.
type SceneStore interface {
	GetScene(ctx context.Context, sceneID, userID uint) (*models.Scene, error)
	ListScenes(ctx context.Context, scriptID, userID uint) ([]models.Scene, error)
	SetSceneImage(ctx context.Context, sceneID uint, storageID string) error
}

// ImageOrchestrator runs the synchronous scene-image generation flow:
// entitlement check, optional reference analysis, prompt construction,
// image generation, blob storage, scene update, usage metering. The caller
// blocks until it finishes or fails; there is no background job here.
type ImageOrchestrator struct {
	Scenes SceneStore
	Images services.ImageGenerator
	Vision services.VisionDescriber
	Blobs  storage.Store
	Flags  entitlements.Checker

	// HTTP fetches reference images from the blob store's public URL.
	HTTP *http.Client
}

func NewImageOrchestrator(scenes SceneStore, images services.ImageGenerator, vision services.VisionDescriber, blobs storage.Store, flags entitlements.Checker) *ImageOrchestrator {
	return &ImageOrchestrator{
		Scenes: scenes,
		Images: images,
		Vision: vision,
		Blobs:  blobs,
		Flags:  flags,
		HTTP:   &http.Client{Timeout: 30 * time.Second},
	}
}

// GenerateImageRequest identifies the target scene and how to pick a
// reference: "auto" (default), "none", or an explicit scene ID.
type GenerateImageRequest struct {
	SceneID   uint
	UserID    uint
	Reference string
}

// GenerateImageResult reports the stored image and whether a reference
// analysis steered the prompt.
type GenerateImageResult struct {
	StorageID     string `json:"storage_id"`
	UsedReference bool   `json:"used_reference"`
}

// GenerateSceneImage generates and persists an image for the scene. On
// success the scene's image reference points at a retrievable blob; on any
// hard failure no partial state is persisted and the scene's prior image, if
// any, is untouched.
func (o *ImageOrchestrator) GenerateSceneImage(ctx context.Context, req GenerateImageRequest) (*GenerateImageResult, error) {
	enabled, err := o.Flags.CheckFlag(ctx, req.UserID, entitlements.FlagSceneImageGeneration)
	if err != nil {
		return nil, fmt.Errorf("entitlement check: %w", err)
	}
	if !enabled {
		return nil, entitlements.ErrNotEntitled
	}

	scene, err := o.Scenes.GetScene(ctx, req.SceneID, req.UserID)
	if err != nil {
		return nil, err
	}

	scenes, err := o.Scenes.ListScenes(ctx, scene.ScriptID, req.UserID)
	if err != nil {
		return nil, err
	}

	refSceneID, err := ResolveReference(scenes, scene.SceneIndex, req.Reference)
	if err != nil {
		return nil, err
	}

	// Reference analysis is best-effort: a missing or unreadable reference
	// must never block generation.
	referenceAnalysis := ""
	if refSceneID != nil {
		referenceAnalysis = o.analyzeReference(ctx, scenes, *refSceneID)
	}

	prompt := buildScenePrompt(scene, referenceAnalysis)

	imageBytes, err := o.Images.GenerateImage(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("image generation: %w", err)
	}
	if len(imageBytes) == 0 {
		return nil, fmt.Errorf("image generation returned empty payload")
	}

	storageID, err := o.Blobs.Put(ctx, imageBytes, "image/png")
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	if err := o.Scenes.SetSceneImage(ctx, scene.ID, storageID); err != nil {
		return nil, fmt.Errorf("update scene image: %w", err)
	}

	o.Flags.Track(ctx, entitlements.EventSceneImageGeneration, req.UserID)

	return &GenerateImageResult{
		StorageID:     storageID,
		UsedReference: referenceAnalysis != "",
	}, nil
}

// analyzeReference fetches the reference scene's image and asks the vision
// service for a consistency description. Every failure logs and returns ""
// so generation proceeds without the enhancement.
func (o *ImageOrchestrator) analyzeReference(ctx context.Context, scenes []models.Scene, refSceneID uint) string {
	var ref *models.Scene
	for i := range scenes {
		if scenes[i].ID == refSceneID {
			ref = &scenes[i]
			break
		}
	}
	if ref == nil || ref.ImageID == nil {
		log.Printf("Reference scene %d has no image, generating without reference", refSceneID)
		return ""
	}

	url := o.Blobs.URL(*ref.ImageID)
	if url == "" {
		log.Printf("Reference image %s not resolvable, generating without reference", *ref.ImageID)
		return ""
	}

	dataURI, err := o.imageURLToDataURI(ctx, url)
	if err != nil {
		log.Printf("Failed to fetch reference image: %v", err)
		return ""
	}

	analysis, err := o.Vision.DescribeImage(ctx, dataURI)
	if err != nil {
		log.Printf("Failed to analyze reference image: %v", err)
		return ""
	}
	return analysis
}

// imageURLToDataURI fetches the image and inlines it as a base64 data URI
// for the vision service.
func (o *ImageOrchestrator) imageURLToDataURI(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := o.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	mimeType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = "image/png"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(raw)), nil
}

// buildScenePrompt constructs the generation prompt. With a reference
// analysis, the model is told to preserve character appearance, style,
// lighting and palette while depicting the new scene; without one it is a
// standalone cinematic storyboard prompt. Emotion and visual elements are
// appended in both shapes.
func buildScenePrompt(scene *models.Scene, referenceAnalysis string) string {
	var b strings.Builder

	if referenceAnalysis != "" {
		b.WriteString("Create a new scene image that maintains VISUAL CONSISTENCY with this reference description:\n\n")
		b.WriteString("REFERENCE IMAGE ANALYSIS:\n")
		b.WriteString(referenceAnalysis)
		b.WriteString("\n\nNEW SCENE DESCRIPTION:\n")
		b.WriteString(scene.SceneContent)
	} else {
		b.WriteString("Create a vivid, cinematic image for the following scene from a video storyboard:\n\n")
		b.WriteString(scene.SceneContent)
	}

	if scene.Emotion != nil && *scene.Emotion != "" {
		b.WriteString("\n\nThe emotional tone should be: ")
		b.WriteString(*scene.Emotion)
	}

	if elements := scene.VisualElementList(); len(elements) > 0 {
		b.WriteString("\n\nImportant visual elements to include: ")
		b.WriteString(strings.Join(elements, ", "))
	}

	if referenceAnalysis != "" {
		b.WriteString("\n\nIMPORTANT: Maintain the same character appearance, art style, lighting, and color palette as described in the reference analysis while adapting to the new scene context above.")
	} else {
		b.WriteString("\n\nCreate a high-quality, professional image suitable for a video production storyboard. Use realistic style with good lighting and composition.")
	}
	return b.String()
}
