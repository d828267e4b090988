package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/procurement_backend/config"
	"github.com/mmdatafocus/procurement_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger appends inbound lots and keeps the stock aggregate in step under the same row lock
// the allocator takes.
type Ledger struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewLedger(db *gorm.DB, logger *logrus.Logger) *Ledger {
	return &Ledger{DB: db, Logger: logger}
}

func (l *Ledger) ReceiveLot(ctx context.Context, input *models.NewInventoryLot, actor models.Actor) (*models.InventoryLot, error) {
	if input == nil {
		return nil, payloadError("lot", "required")
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if input.UnitCost.IsNegative() {
		return nil, payloadError("unit_cost", "must not be negative")
	}

	lot := &models.InventoryLot{
		ProductId:   input.ProductId,
		WarehouseId: input.WarehouseId,
		Quantity:    input.Quantity,
		EntryDate:   input.EntryDate.UTC(),
		InvoiceRef:  input.InvoiceRef,
		UnitCost:    input.UnitCost,
		CreatedBy:   actor.UserId,
	}
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		summary, err := models.FirstOrCreateStockSummary(tx, input.WarehouseId, input.ProductId)
		if err != nil {
			config.LogError(l.Logger, "ledger.go", "ReceiveLot", "FirstOrCreateStockSummary", input, err)
			return err
		}
		if err := tx.Create(lot).Error; err != nil {
			config.LogError(l.Logger, "ledger.go", "ReceiveLot", "Create lot", input, err)
			return err
		}
		return models.ReceiveStock(tx, summary.ID, lot.Quantity)
	}, readCommitted)
	if err != nil {
		return nil, translateStorageErr(err)
	}
	return lot, nil
}

// VoidLot withdraws a lot booked in error. Lots that any exit consumed stay forever.
func (l *Ledger) VoidLot(ctx context.Context, lotId int, actor models.Actor) error {
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lot models.InventoryLot
		if err := tx.First(&lot, lotId).Error; err != nil {
			if models.IsNotFound(err) {
				return ErrLotNotFound
			}
			return err
		}
		// Lock order matches the allocator: aggregate row first, then the lot.
		summary, err := models.FirstOrCreateStockSummary(tx, lot.WarehouseId, lot.ProductId)
		if err != nil {
			return err
		}
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&lot, lotId).Error; err != nil {
			if models.IsNotFound(err) {
				return ErrLotNotFound
			}
			return err
		}
		consumed, err := models.ConsumedByLot(tx, []int{lot.ID})
		if err != nil {
			return err
		}
		if consumed[lot.ID] > 0 {
			return fmt.Errorf("%w: lot %d has %d allocated", ErrLotConsumed, lot.ID, consumed[lot.ID])
		}
		if err := tx.Delete(&lot).Error; err != nil {
			return err
		}
		if err := models.VoidStock(tx, summary.ID, lot.Quantity); err != nil {
			if errors.Is(err, models.ErrStockRowConflict) {
				return &LedgerStockMismatchError{ProductId: lot.ProductId, WarehouseId: lot.WarehouseId, Short: lot.Quantity - summary.CurrentQty}
			}
			return err
		}
		if l.Logger != nil {
			l.Logger.WithFields(logrus.Fields{
				"field":        "Ledger",
				"lot_id":       lot.ID,
				"product_id":   lot.ProductId,
				"warehouse_id": lot.WarehouseId,
				"quantity":     lot.Quantity,
				"user_id":      actor.UserId,
			}).Info("inventory lot voided")
		}
		return nil
	}, readCommitted)
	return translateStorageErr(err)
}
