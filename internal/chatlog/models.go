package chatlog

import "time"

// MessageLog is one answered turn as written by the relay or the log worker.
type MessageLog struct {
	ID         string    `gorm:"primaryKey;size:26" json:"id"` // ULID
	SessionKey string    `gorm:"type:varchar(64);index;not null" json:"session_key"`
	UserID     string    `gorm:"type:varchar(128);index;not null" json:"user_id"`
	Message    string    `gorm:"type:text;not null" json:"message"`
	Response   string    `gorm:"type:text;not null" json:"response"`
	Provider   string    `gorm:"type:varchar(32);index;not null" json:"provider"`
	Model      string    `gorm:"type:varchar(128)" json:"model"`
	TokensUsed int       `gorm:"not null;default:0" json:"tokens_used"`
	Metadata   string    `gorm:"type:text" json:"metadata,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

func (MessageLog) TableName() string { return "message_logs" }
