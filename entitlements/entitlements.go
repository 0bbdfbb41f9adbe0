// Package entitlements gates paid generation features and meters their use.
package entitlements

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/storyforge/storyboard-api/models"
)

// Feature flags gating generation operations, and the usage events emitted
// when they run.
const (
	FlagSceneImageGeneration = "scene-image-generation"
	FlagVoiceoverGeneration  = "voiceover-generation"

	EventSceneImageGeneration = "scene-image-generation"
	EventVoiceoverGeneration  = "voiceover-generation"
)

// ErrNotEntitled means the user's plan does not include the feature. It is a
// distinct signal so the caller can surface an upgrade prompt instead of a
// generic error, and it is never retried.
var ErrNotEntitled = errors.New("feature not enabled, please upgrade")

// Checker answers feature-flag checks and records usage events.
type Checker interface {
	// CheckFlag reports whether the feature is enabled for the user.
	CheckFlag(ctx context.Context, userID uint, flag string) (bool, error)
	// Track meters one use of a feature. Fire-and-forget: failures are
	// logged, never returned, and must not fail the generation operation.
	Track(ctx context.Context, event string, userID uint)
}

// Service derives entitlements from the user's subscription columns and
// meters usage into Redis counters.
type Service struct {
	DB  *gorm.DB
	RDB *redis.Client
}

func NewService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{DB: db, RDB: rdb}
}

func (s *Service) CheckFlag(ctx context.Context, userID uint, flag string) (bool, error) {
	switch flag {
	case FlagSceneImageGeneration, FlagVoiceoverGeneration:
	default:
		return false, fmt.Errorf("unknown feature flag %q", flag)
	}

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.IsSubscribed(), nil
}

func (s *Service) Track(ctx context.Context, event string, userID uint) {
	key := fmt.Sprintf("usage:%s:%d", event, userID)
	if err := s.RDB.Incr(ctx, key).Err(); err != nil {
		log.Printf("Error tracking usage event %s for user %d: %v", event, userID, err)
	}
}
