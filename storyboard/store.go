package storyboard

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/storyforge/storyboard-api/models"
)

var (
	// ErrNotFound means the record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized means the record exists but belongs to another user.
	// Handlers present both as 404 so the external surface does not leak
	// existence; internal logic keeps them distinct.
	ErrUnauthorized = errors.New("unauthorized")
)

// Store is ownership-scoped CRUD over storyboard scenes. Reads are keyed by
// (scriptID, userID), mutations by primary scene ID with a userID check.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// GetScript loads a script, enforcing ownership.
func (s *Store) GetScript(ctx context.Context, scriptID, userID uint) (*models.Script, error) {
	var script models.Script
	if err := s.db.WithContext(ctx).First(&script, scriptID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if script.UserID != userID {
		return nil, ErrUnauthorized
	}
	return &script, nil
}

// ListScenes returns the script's scenes in ascending scene-index order.
// Every downstream consumer depends on that ordering.
func (s *Store) ListScenes(ctx context.Context, scriptID, userID uint) ([]models.Scene, error) {
	var scenes []models.Scene
	err := s.db.WithContext(ctx).
		Where("script_id = ? AND user_id = ?", scriptID, userID).
		Order("scene_index ASC").
		Find(&scenes).Error
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	return scenes, nil
}

// GetScene loads a scene, enforcing ownership.
func (s *Store) GetScene(ctx context.Context, sceneID, userID uint) (*models.Scene, error) {
	var scene models.Scene
	if err := s.db.WithContext(ctx).First(&scene, sceneID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if scene.UserID != userID {
		return nil, ErrUnauthorized
	}
	return &scene, nil
}

// CreateScene inserts one scene. Scene-index uniqueness is not validated
// here; the segmenter is the only bulk producer and emits a consistent
// batch.
func (s *Store) CreateScene(ctx context.Context, scene *models.Scene) error {
	if scene.SceneContent == "" {
		return fmt.Errorf("scene content must not be empty")
	}
	if !models.ValidContentType(scene.ContentType) {
		return fmt.Errorf("invalid content type %q", scene.ContentType)
	}
	return s.db.WithContext(ctx).Create(scene).Error
}

// CreateSceneBatch inserts the segmenter's output in a single transaction so
// a partial batch never becomes visible.
func (s *Store) CreateSceneBatch(ctx context.Context, scenes []models.Scene) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range scenes {
			if err := tx.Create(&scenes[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateScene applies a partial update; only supplied fields change,
// unsupplied optional fields are left untouched.
func (s *Store) UpdateScene(ctx context.Context, sceneID, userID uint, updates map[string]interface{}) error {
	if _, err := s.GetScene(ctx, sceneID, userID); err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	if raw, ok := updates["content_type"]; ok {
		if ct, ok := raw.(models.SceneContentType); !ok || !models.ValidContentType(ct) {
			return fmt.Errorf("invalid content type %v", raw)
		}
	}
	return s.db.WithContext(ctx).Model(&models.Scene{}).
		Where("id = ?", sceneID).
		Updates(updates).Error
}

// SetSceneImage repoints the scene to a newly stored image, latest wins;
// there is no image history.
func (s *Store) SetSceneImage(ctx context.Context, sceneID uint, storageID string) error {
	return s.db.WithContext(ctx).Model(&models.Scene{}).
		Where("id = ?", sceneID).
		Update("image_id", storageID).Error
}

// DeleteScene hard-deletes a scene. Remaining scene indexes are not
// renumbered, so a gap appears in the ordering and stays there. Associated
// voiceover cleanup is the handler's responsibility.
func (s *Store) DeleteScene(ctx context.Context, sceneID, userID uint) error {
	scene, err := s.GetScene(ctx, sceneID, userID)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Delete(scene).Error
}
