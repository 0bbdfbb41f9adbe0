package voiceover

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/storyforge/storyboard-api/models"
)

var (
	// ErrNotFound means the voiceover record does not exist.
	ErrNotFound = errors.New("voiceover not found")
	// ErrUnauthorized means the record belongs to another user. Handlers
	// present it as 404 externally.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSuperseded means a guarded write found the record gone or
	// re-requested since the job was enqueued; the write was skipped.
	ErrSuperseded = errors.New("voiceover job superseded")
)

// Repo persists voiceover records and maintains the scene back-reference.
// The orchestrator depends on this interface so its state machine is
// testable without a database.
type Repo interface {
	Get(ctx context.Context, id uint) (*models.Voiceover, error)
	GetOwned(ctx context.Context, id, userID uint) (*models.Voiceover, error)
	FindByScene(ctx context.Context, sceneID uint) (*models.Voiceover, error)

	// VerifyScene and VerifyScript confirm the target record exists and
	// belongs to userID before any voiceover write touches it. They return
	// ErrNotFound or ErrUnauthorized otherwise.
	VerifyScene(ctx context.Context, sceneID, userID uint) error
	VerifyScript(ctx context.Context, scriptID, userID uint) error

	// FindOrReuseForScene is the atomic find-then-insert-or-update keyed by
	// vo.SceneID. When a record already exists for the scene it is reset to
	// processing with vo's text/voice snapshot and a bumped generation, and
	// vo takes on its identity; otherwise vo is inserted fresh. Either way
	// vo.ID and vo.Generation are current on return.
	FindOrReuseForScene(ctx context.Context, vo *models.Voiceover) error

	Create(ctx context.Context, vo *models.Voiceover) error

	// UpdateGuarded applies fields only if the row still carries the given
	// generation; otherwise ErrSuperseded.
	UpdateGuarded(ctx context.Context, id, generation uint, fields map[string]interface{}) error

	Delete(ctx context.Context, id uint) error
	ListByScript(ctx context.Context, scriptID, userID uint) ([]models.Voiceover, error)
	SceneVoiceover(ctx context.Context, sceneID, userID uint) (*models.Voiceover, error)
	SetSceneVoiceover(ctx context.Context, sceneID uint, voiceoverID *uint) error
}

// GormRepo is the Postgres-backed Repo.
type GormRepo struct {
	db *gorm.DB
}

func NewGormRepo(db *gorm.DB) *GormRepo {
	return &GormRepo{db: db}
}

func (r *GormRepo) Get(ctx context.Context, id uint) (*models.Voiceover, error) {
	var vo models.Voiceover
	if err := r.db.WithContext(ctx).First(&vo, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &vo, nil
}

func (r *GormRepo) GetOwned(ctx context.Context, id, userID uint) (*models.Voiceover, error) {
	vo, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if vo.UserID != userID {
		return nil, ErrUnauthorized
	}
	return vo, nil
}

func (r *GormRepo) FindByScene(ctx context.Context, sceneID uint) (*models.Voiceover, error) {
	var vo models.Voiceover
	err := r.db.WithContext(ctx).Where("scene_id = ?", sceneID).First(&vo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &vo, nil
}

func (r *GormRepo) VerifyScene(ctx context.Context, sceneID, userID uint) error {
	var scene models.Scene
	if err := r.db.WithContext(ctx).Select("user_id").First(&scene, sceneID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if scene.UserID != userID {
		return ErrUnauthorized
	}
	return nil
}

func (r *GormRepo) VerifyScript(ctx context.Context, scriptID, userID uint) error {
	var script models.Script
	if err := r.db.WithContext(ctx).Select("user_id").First(&script, scriptID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	if script.UserID != userID {
		return ErrUnauthorized
	}
	return nil
}

func (r *GormRepo) FindOrReuseForScene(ctx context.Context, vo *models.Voiceover) error {
	if vo.SceneID == nil {
		return fmt.Errorf("find-or-reuse requires a scene id")
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Voiceover
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("scene_id = ?", *vo.SceneID).
			First(&existing).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				vo.Status = models.VoiceoverProcessing
				vo.Generation = 1
				return tx.Create(vo).Error
			}
			return err
		}

		updates := map[string]interface{}{
			"status":         models.VoiceoverProcessing,
			"text":           vo.Text,
			"voice_name":     vo.VoiceName,
			"voice_provider": vo.VoiceProvider,
			"storage_id":     nil,
			"duration":       nil,
			"error_message":  nil,
			"generation":     existing.Generation + 1,
		}
		if err := tx.Model(&models.Voiceover{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return err
		}

		vo.ID = existing.ID
		vo.Generation = existing.Generation + 1
		vo.Status = models.VoiceoverProcessing
		vo.CreatedAt = existing.CreatedAt
		return nil
	})
}

func (r *GormRepo) Create(ctx context.Context, vo *models.Voiceover) error {
	vo.Status = models.VoiceoverProcessing
	if vo.Generation == 0 {
		vo.Generation = 1
	}
	return r.db.WithContext(ctx).Create(vo).Error
}

func (r *GormRepo) UpdateGuarded(ctx context.Context, id, generation uint, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&models.Voiceover{}).
		Where("id = ? AND generation = ?", id, generation).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrSuperseded
	}
	return nil
}

func (r *GormRepo) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Voiceover{}, id).Error
}

func (r *GormRepo) ListByScript(ctx context.Context, scriptID, userID uint) ([]models.Voiceover, error) {
	var voiceovers []models.Voiceover
	err := r.db.WithContext(ctx).
		Where("script_id = ? AND user_id = ?", scriptID, userID).
		Order("created_at ASC").
		Find(&voiceovers).Error
	if err != nil {
		return nil, err
	}
	return voiceovers, nil
}

func (r *GormRepo) SceneVoiceover(ctx context.Context, sceneID, userID uint) (*models.Voiceover, error) {
	var vo models.Voiceover
	err := r.db.WithContext(ctx).
		Where("scene_id = ? AND user_id = ?", sceneID, userID).
		First(&vo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &vo, nil
}

func (r *GormRepo) SetSceneVoiceover(ctx context.Context, sceneID uint, voiceoverID *uint) error {
	return r.db.WithContext(ctx).Model(&models.Scene{}).
		Where("id = ?", sceneID).
		Update("voiceover_id", voiceoverID).Error
}
