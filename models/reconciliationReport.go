package models

import (
	"time"

	"gorm.io/gorm"
)

// ReconciliationReport is a drift alert. Reports are never used to heal stock automatically.
type ReconciliationReport struct {
	ID            int       `gorm:"primary_key" json:"id"`
	CheckType     string    `gorm:"size:50;index;not null" json:"check_type"`  // LEDGER_STOCK_MISMATCH, STOCK_CONSERVATION
	EntityType    string    `gorm:"size:50;index;not null" json:"entity_type"` // Request, StockSummary
	EntityId      int       `gorm:"index;not null" json:"entity_id"`
	ProductId     int       `gorm:"index" json:"product_id"`
	WarehouseId   int       `gorm:"index" json:"warehouse_id"`
	ExpectedQty   int64     `json:"expected_qty"`
	ActualQty     int64     `json:"actual_qty"`
	Details       string    `gorm:"type:text" json:"details"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func CreateReconciliationReports(tx *gorm.DB, reports []ReconciliationReport) error {
	if len(reports) == 0 {
		return nil
	}
	return tx.Create(&reports).Error
}
