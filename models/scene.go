package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// SceneContentType classifies what a storyboard scene depicts.
type SceneContentType string

const (
	ContentTypeIntro      SceneContentType = "intro"
	ContentTypeAction     SceneContentType = "action"
	ContentTypeDialogue   SceneContentType = "dialogue"
	ContentTypeTransition SceneContentType = "transition"
	ContentTypeOutro      SceneContentType = "outro"
	ContentTypeOther      SceneContentType = "other"
)

// ValidContentType reports whether t is one of the enumerated scene types.
func ValidContentType(t SceneContentType) bool {
	switch t {
	case ContentTypeIntro, ContentTypeAction, ContentTypeDialogue,
		ContentTypeTransition, ContentTypeOutro, ContentTypeOther:
		return true
	}
	return false
}

// Scene is one ordered segment of a script's storyboard.
// SceneIndex is zero-based and dense within a script at parse time;
// deletions leave gaps on purpose (scenes are never renumbered).
type Scene struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	ScriptID uint   `gorm:"not null;index:idx_scene_script_order,priority:1" json:"script_id"`
	UserID   uint   `gorm:"not null;index" json:"user_id"`
	VideoID  string `gorm:"size:64" json:"video_id"`

	SceneIndex   int              `gorm:"not null;index:idx_scene_script_order,priority:2" json:"scene_index"`
	SceneName    string           `gorm:"size:255;not null" json:"scene_name"`
	SceneContent string           `gorm:"type:text;not null" json:"scene_content"`
	ContentType  SceneContentType `gorm:"size:16;not null" json:"content_type"`

	Emotion        *string        `json:"emotion,omitempty"`
	VisualElements datatypes.JSON `json:"visual_elements,omitempty"`

	ImageID     *string `gorm:"size:64" json:"image_id,omitempty"`
	VoiceoverID *uint   `json:"voiceover_id,omitempty"`

	Duration  *int      `json:"duration,omitempty"`
	Notes     *string   `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (Scene) TableName() string {
	return "storyboard_scenes"
}

// VisualElementList decodes the JSON visual-elements column. Nil when the
// segmenter found no visual elements or the column is malformed.
func (s *Scene) VisualElementList() []string {
	if len(s.VisualElements) == 0 {
		return nil
	}
	var elements []string
	if err := json.Unmarshal(s.VisualElements, &elements); err != nil {
		return nil
	}
	return elements
}
