package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CatalogWindow is the capture period a draft request must be filed under.
type CatalogWindow struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100;uniqueIndex;not null" json:"name"`
	OpensAt   time.Time `gorm:"not null" json:"opens_at"`
	ClosesAt  time.Time `gorm:"not null" json:"closes_at"`
	IsClosed  bool      `gorm:"not null;default:false" json:"is_closed"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCatalogWindow struct {
	Name     string    `json:"name" validate:"required,max=100"`
	OpensAt  time.Time `json:"opens_at" validate:"required"`
	ClosesAt time.Time `json:"closes_at" validate:"required,gtfield=OpensAt"`
}

// IsOpenAt reports whether drafts may be filed under the window at now. The close bound is exclusive.
func (w CatalogWindow) IsOpenAt(now time.Time) bool {
	if w.IsClosed {
		return false
	}
	return !now.Before(w.OpensAt) && now.Before(w.ClosesAt)
}

func CreateCatalogWindow(ctx context.Context, db *gorm.DB, input *NewCatalogWindow) (*CatalogWindow, error) {
	if input == nil {
		return nil, errors.New("catalog window input is required")
	}
	w := CatalogWindow{
		Name:     input.Name,
		OpensAt:  input.OpensAt.UTC(),
		ClosesAt: input.ClosesAt.UTC(),
	}
	if err := db.WithContext(ctx).Create(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func CloseCatalogWindow(ctx context.Context, db *gorm.DB, id int) error {
	var w CatalogWindow
	if err := db.WithContext(ctx).First(&w, id).Error; err != nil {
		return err
	}
	return db.WithContext(ctx).Model(&w).Update("is_closed", true).Error
}

// GetCatalogWindowShared reads the window with a shared lock so a concurrent close waits for the draft.
func GetCatalogWindowShared(tx *gorm.DB, id int) (*CatalogWindow, error) {
	var w CatalogWindow
	if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).First(&w, id).Error; err != nil {
		return nil, err
	}
	return &w, nil
}
