package store

import (
	"context"
	"fmt"
	"time"
)

// UserRecord is the reference users table.
type UserRecord struct {
	UserID        string  `gorm:"column:user_id;primaryKey"`
	Username      string  `gorm:"column:username;uniqueIndex"`
	Email         string  `gorm:"column:email;index"`
	Password      string  `gorm:"column:password"`
	DisplayName   string  `gorm:"column:display_name"`
	RememberToken *string `gorm:"column:remember_token;size:100"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (UserRecord) TableName() string {
	return "users"
}

// Migrate creates or updates the configured table from UserRecord.
func (s *UserStore) Migrate(ctx context.Context) error {
	if err := s.table(ctx).AutoMigrate(&UserRecord{}); err != nil {
		return fmt.Errorf("migrating %s: %w", s.opts.Table, err)
	}
	return nil
}
