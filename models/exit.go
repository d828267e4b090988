package models

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Exit is the warehouse outbound movement created once per fulfilled request.
type Exit struct {
	ID           int              `gorm:"primary_key" json:"id"`
	Folio        string           `gorm:"size:40;uniqueIndex;not null" json:"folio"`
	Status       ExitStatus       `gorm:"size:20;not null" json:"status"`
	RequestId    int              `gorm:"uniqueIndex;not null" json:"request_id"`
	WarehouseId  int              `gorm:"index;not null" json:"warehouse_id"`
	ExitDate     time.Time        `gorm:"not null" json:"exit_date"`
	TotalQty     int64            `gorm:"not null" json:"total_qty"`
	TotalCost    decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"total_cost"`
	DocumentPath *string          `gorm:"size:255" json:"document_path"`
	IssuedBy     int              `gorm:"not null" json:"issued_by"`
	Lines        []AllocationLine `gorm:"foreignKey:ExitId" json:"lines"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// AllocationLine records how much of one lot an exit consumed for one request line.
type AllocationLine struct {
	ID             int             `gorm:"primary_key" json:"id"`
	ExitId         int             `gorm:"index;not null" json:"exit_id"`
	RequestLineId  int             `gorm:"index;not null" json:"request_line_id"`
	ProductId      int             `gorm:"index;not null" json:"product_id"`
	InventoryLotId int             `gorm:"index;not null" json:"inventory_lot_id"`
	Quantity       int64           `gorm:"not null" json:"quantity"`
	UnitCost       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func GetExitByRequest(tx *gorm.DB, requestId int) (*Exit, error) {
	var exit Exit
	err := tx.Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") }).
		Where("request_id = ?", requestId).
		First(&exit).Error
	if err != nil {
		return nil, err
	}
	return &exit, nil
}

func SetExitDocumentPath(ctx context.Context, db *gorm.DB, exitId int, path string) error {
	return db.WithContext(ctx).Model(&Exit{}).Where("id = ?", exitId).Update("document_path", path).Error
}
