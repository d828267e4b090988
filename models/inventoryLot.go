package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InventoryLot is one inbound batch. Rows are append-only; the only mutation is the
// soft delete of a lot that nothing has consumed yet.
type InventoryLot struct {
	ID          int             `gorm:"primary_key;index:idx_lot_fifo,priority:4" json:"id"`
	ProductId   int             `gorm:"not null;index:idx_lot_fifo,priority:1" json:"product_id"`
	WarehouseId int             `gorm:"not null;index:idx_lot_fifo,priority:2" json:"warehouse_id"`
	Quantity    int64           `gorm:"not null" json:"quantity"`
	EntryDate   time.Time       `gorm:"not null;index:idx_lot_fifo,priority:3" json:"entry_date"`
	InvoiceRef  string          `gorm:"size:100;index" json:"invoice_ref"`
	UnitCost    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	CreatedBy   int             `gorm:"not null" json:"created_by"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	DeletedAt   gorm.DeletedAt  `gorm:"index" json:"-"`
}

type NewInventoryLot struct {
	ProductId   int             `json:"product_id" validate:"required,gt=0"`
	WarehouseId int             `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    int64           `json:"quantity" validate:"gt=0"`
	EntryDate   time.Time       `json:"entry_date" validate:"required"`
	InvoiceRef  string          `json:"invoice_ref" validate:"required,max=100"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

// ListFifoLots returns live lots for one product in allocation order.
func ListFifoLots(tx *gorm.DB, warehouseId int, productId int) ([]InventoryLot, error) {
	var lots []InventoryLot
	err := tx.Where("warehouse_id = ? AND product_id = ?", warehouseId, productId).
		Order("entry_date ASC, id ASC").
		Find(&lots).Error
	return lots, err
}

// ConsumedByLot sums allocation lines per lot id.
func ConsumedByLot(tx *gorm.DB, lotIds []int) (map[int]int64, error) {
	consumed := make(map[int]int64, len(lotIds))
	if len(lotIds) == 0 {
		return consumed, nil
	}
	var rows []struct {
		InventoryLotId int
		Qty            int64
	}
	if err := tx.Model(&AllocationLine{}).
		Select("inventory_lot_id, COALESCE(SUM(quantity), 0) AS qty").
		Where("inventory_lot_id IN ?", lotIds).
		Group("inventory_lot_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		consumed[r.InventoryLotId] = r.Qty
	}
	return consumed, nil
}
