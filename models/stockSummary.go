package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockSummary is the cached running total per (product, warehouse).
// current_qty = received_qty - voided_qty - issued_qty and must equal live lots minus allocations.
type StockSummary struct {
	ID          int       `gorm:"primary_key" json:"id"`
	ProductId   int       `gorm:"not null;uniqueIndex:idx_stock_product_warehouse,priority:1" json:"product_id"`
	WarehouseId int       `gorm:"not null;uniqueIndex:idx_stock_product_warehouse,priority:2" json:"warehouse_id"`
	ReceivedQty int64     `gorm:"not null;default:0" json:"received_qty"`
	VoidedQty   int64     `gorm:"not null;default:0" json:"voided_qty"`
	IssuedQty   int64     `gorm:"not null;default:0" json:"issued_qty"`
	CurrentQty  int64     `gorm:"not null;default:0" json:"current_qty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

var ErrStockRowConflict = errors.New("stock summary row changed outside its lock")

// FirstOrCreateStockSummary returns the locked aggregate row, creating an empty one if missing.
func FirstOrCreateStockSummary(tx *gorm.DB, warehouseId int, productId int) (*StockSummary, error) {
	row := StockSummary{ProductId: productId, WarehouseId: warehouseId}
	// ON DUPLICATE KEY keeps concurrent first receipts from failing on the unique index.
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return nil, err
	}
	var locked StockSummary
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("warehouse_id = ? AND product_id = ?", warehouseId, productId).
		First(&locked).Error; err != nil {
		return nil, err
	}
	return &locked, nil
}

// LockStockSummaries locks the aggregate rows of productIds in ascending product id order.
// Products without a row are absent from the map and hold zero stock.
func LockStockSummaries(tx *gorm.DB, warehouseId int, productIds []int) (map[int]StockSummary, error) {
	out := make(map[int]StockSummary, len(productIds))
	if len(productIds) == 0 {
		return out, nil
	}
	var rows []StockSummary
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("warehouse_id = ? AND product_id IN ?", warehouseId, productIds).
		Order("product_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ProductId] = r
	}
	return out, nil
}

func IssueStock(tx *gorm.DB, summaryId int, qty int64) error {
	res := tx.Exec(`UPDATE stock_summaries
		SET current_qty = current_qty - ?, issued_qty = issued_qty + ?, updated_at = ?
		WHERE id = ? AND current_qty >= ?`, qty, qty, time.Now().UTC(), summaryId, qty)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrStockRowConflict
	}
	return nil
}

func ReceiveStock(tx *gorm.DB, summaryId int, qty int64) error {
	return tx.Exec(`UPDATE stock_summaries
		SET current_qty = current_qty + ?, received_qty = received_qty + ?, updated_at = ?
		WHERE id = ?`, qty, qty, time.Now().UTC(), summaryId).Error
}

func VoidStock(tx *gorm.DB, summaryId int, qty int64) error {
	res := tx.Exec(`UPDATE stock_summaries
		SET current_qty = current_qty - ?, voided_qty = voided_qty + ?, updated_at = ?
		WHERE id = ? AND current_qty >= ?`, qty, qty, time.Now().UTC(), summaryId, qty)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != 1 {
		return ErrStockRowConflict
	}
	return nil
}
