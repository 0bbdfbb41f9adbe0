package models

import "time"

// VoiceoverStatus is the three-state job lifecycle for a voiceover record.
type VoiceoverStatus string

const (
	VoiceoverProcessing VoiceoverStatus = "processing"
	VoiceoverCompleted  VoiceoverStatus = "completed"
	VoiceoverFailed     VoiceoverStatus = "failed"
)

// Voiceover is a synthesized-audio job tied to a script and optionally one
// scene. The record doubles as the job's error channel: background failures
// land in Status/ErrorMessage, never in a caller-visible error.
//
// Invariants: StorageID is set iff Status is completed; ErrorMessage is set
// iff Status is failed.
type Voiceover struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	ScriptID uint   `gorm:"not null;index" json:"script_id"`
	SceneID  *uint  `gorm:"index" json:"scene_id,omitempty"`
	UserID   uint   `gorm:"not null;index" json:"user_id"`
	VideoID  string `gorm:"size:64" json:"video_id"`

	StorageID     *string `gorm:"size:64" json:"storage_id,omitempty"`
	VoiceName     string  `gorm:"size:128;not null" json:"voice_name"`
	VoiceProvider string  `gorm:"size:32;not null;default:'elevenlabs'" json:"voice_provider"`
	Duration      *int    `json:"duration,omitempty"`
	Text          string  `gorm:"type:text;not null" json:"text"`

	Status       VoiceoverStatus `gorm:"size:16;not null;default:'processing'" json:"status"`
	ErrorMessage *string         `gorm:"type:text" json:"error_message,omitempty"`

	// Generation is bumped on every (re)request. A completing background job
	// whose generation no longer matches the row skips its write, so deleted
	// or superseded jobs cannot resurrect stale state.
	Generation uint `gorm:"not null;default:1" json:"generation"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Voiceover) TableName() string {
	return "voiceovers"
}
