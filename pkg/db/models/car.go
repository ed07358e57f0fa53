package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Car struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID `gorm:"column:user_id;type:uuid;not null"`
	Make      string    `gorm:"column:make;not null"`
	Model     string    `gorm:"column:model;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Car) TableName() string { return "cars" }

func (c *Car) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
