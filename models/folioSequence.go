package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FolioSequence numbers request documents per prefix and calendar year.
type FolioSequence struct {
	Prefix    string    `gorm:"primaryKey;size:10;autoIncrement:false" json:"prefix"`
	Year      int       `gorm:"primaryKey;autoIncrement:false" json:"year"`
	LastValue int64     `gorm:"not null;default:0" json:"last_value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// NextFolio reserves the next number under a row lock held until tx ends, e.g. "RQ-2024-000042".
func NextFolio(tx *gorm.DB, prefix string, now time.Time) (string, error) {
	year := now.UTC().Year()
	seq := FolioSequence{Prefix: prefix, Year: year}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seq).Error; err != nil {
		return "", err
	}
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("prefix = ? AND year = ?", prefix, year).
		First(&seq).Error; err != nil {
		return "", err
	}
	next := seq.LastValue + 1
	if err := tx.Model(&FolioSequence{}).
		Where("prefix = ? AND year = ?", prefix, year).
		Update("last_value", next).Error; err != nil {
		return "", err
	}
	return FormatFolio(prefix, year, next), nil
}

func FormatFolio(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%04d-%06d", prefix, year, n)
}
