package models

import "time"

// Script owns a generated block of script text. It is created by the script
// generation pipeline and read-only to the storyboard core.
type Script struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	VideoID   string    `gorm:"size:64;index" json:"video_id"`
	Title     string    `gorm:"size:255" json:"title"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (Script) TableName() string {
	return "scripts"
}
