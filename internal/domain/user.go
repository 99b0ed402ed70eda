package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Email    string    `gorm:"uniqueIndex;not null;column:email" json:"email"`
	Password string    `gorm:"not null;column:password" json:"-"`

	Credits int  `gorm:"column:credits;not null;default:0" json:"credits"`
	Blocked bool `gorm:"column:blocked;not null;default:false" json:"blocked"`

	// Daily request counter; the window start rolls forward when a new UTC
	// day begins, inside the same conditional update that increments.
	DailyRequests int        `gorm:"column:daily_requests;not null;default:0" json:"daily_requests"`
	DailyWindowAt *time.Time `gorm:"column:daily_window_at" json:"daily_window_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (User) TableName() string { return "user" }
