package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/mmdatafocus/procurement_backend/config"
	"github.com/mmdatafocus/procurement_backend/models"
	"github.com/mmdatafocus/procurement_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type StockKey struct {
	ProductId   int `json:"product_id"`
	WarehouseId int `json:"warehouse_id"`
}

// Drift is one disagreement between the aggregate and the ledger.
type Drift struct {
	StockKey
	CheckType      string `json:"check_type"`
	StockSummaryId int    `json:"stock_summary_id"`
	LotId          int    `json:"lot_id,omitempty"`
	LotQty         int64  `json:"lot_qty"`
	AllocatedQty   int64  `json:"allocated_qty"`
	ExpectedQty    int64  `json:"expected_qty"`
	CurrentQty     int64  `json:"current_qty"`
}

// Reconciler compares stock aggregates with lots minus allocations. It reports, it never heals.
type Reconciler struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewReconciler(db *gorm.DB, logger *logrus.Logger) *Reconciler {
	return &Reconciler{DB: db, Logger: logger}
}

type keyedQty struct {
	ProductId   int
	WarehouseId int
	Qty         int64
}

// Check scans one warehouse (or all when warehouseId is 0) and persists a report row per drift.
func (r *Reconciler) Check(ctx context.Context, warehouseId int) ([]Drift, error) {
	db := r.DB.WithContext(ctx)

	var lotTotals []keyedQty
	q := db.Model(&models.InventoryLot{}).
		Select("product_id, warehouse_id, COALESCE(SUM(quantity), 0) AS qty").
		Group("product_id, warehouse_id")
	if warehouseId > 0 {
		q = q.Where("warehouse_id = ?", warehouseId)
	}
	if err := q.Scan(&lotTotals).Error; err != nil {
		return nil, translateStorageErr(err)
	}

	var allocTotals []keyedQty
	q = db.Table("allocation_lines AS al").
		Select("al.product_id AS product_id, e.warehouse_id AS warehouse_id, COALESCE(SUM(al.quantity), 0) AS qty").
		Joins("JOIN exits e ON e.id = al.exit_id").
		Group("al.product_id, e.warehouse_id")
	if warehouseId > 0 {
		q = q.Where("e.warehouse_id = ?", warehouseId)
	}
	if err := q.Scan(&allocTotals).Error; err != nil {
		return nil, translateStorageErr(err)
	}

	var summaries []models.StockSummary
	q = db.Model(&models.StockSummary{})
	if warehouseId > 0 {
		q = q.Where("warehouse_id = ?", warehouseId)
	}
	if err := q.Find(&summaries).Error; err != nil {
		return nil, translateStorageErr(err)
	}

	// Lots whose allocations exceed their quantity (soft-deleted lots included on purpose).
	var overConsumed []struct {
		LotId       int
		ProductId   int
		WarehouseId int
		LotQty      int64
		Allocated   int64
	}
	q = db.Table("inventory_lots AS l").
		Select("l.id AS lot_id, l.product_id, l.warehouse_id, l.quantity AS lot_qty, SUM(al.quantity) AS allocated").
		Joins("JOIN allocation_lines al ON al.inventory_lot_id = l.id").
		Group("l.id, l.product_id, l.warehouse_id, l.quantity").
		Having("SUM(al.quantity) > l.quantity")
	if warehouseId > 0 {
		q = q.Where("l.warehouse_id = ?", warehouseId)
	}
	if err := q.Scan(&overConsumed).Error; err != nil {
		return nil, translateStorageErr(err)
	}

	drifts := computeDrifts(lotTotals, allocTotals, summaries)
	for _, o := range overConsumed {
		drifts = append(drifts, Drift{
			CheckType:    models.CheckTypeLotOverConsumed,
			StockKey:     StockKey{ProductId: o.ProductId, WarehouseId: o.WarehouseId},
			LotId:        o.LotId,
			LotQty:       o.LotQty,
			AllocatedQty: o.Allocated,
		})
	}
	if len(drifts) == 0 {
		return drifts, nil
	}

	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	reports := make([]models.ReconciliationReport, 0, len(drifts))
	for _, d := range drifts {
		entityType, entityId := "StockSummary", d.StockSummaryId
		if d.LotId > 0 {
			entityType, entityId = "InventoryLot", d.LotId
		}
		reports = append(reports, models.ReconciliationReport{
			CheckType:     d.CheckType,
			EntityType:    entityType,
			EntityId:      entityId,
			ProductId:     d.ProductId,
			WarehouseId:   d.WarehouseId,
			ExpectedQty:   d.ExpectedQty,
			ActualQty:     d.CurrentQty,
			Details:       fmt.Sprintf("lots=%d allocated=%d expected=%d current=%d", d.LotQty, d.AllocatedQty, d.ExpectedQty, d.CurrentQty),
			CorrelationId: correlationId,
		})
	}
	if err := models.CreateReconciliationReports(db, reports); err != nil {
		config.LogError(r.Logger, "reconcile.go", "Check", "CreateReconciliationReports", len(reports), err)
		return drifts, translateStorageErr(err)
	}
	if r.Logger != nil {
		r.Logger.WithFields(logrus.Fields{
			"field":        "Reconciler",
			"warehouse_id": warehouseId,
			"drifts":       len(drifts),
		}).Warn("stock reconciliation found drift")
	}
	return drifts, nil
}

// computeDrifts returns every key where current_qty differs from live lots minus allocations,
// including keys that have lots or allocations but no aggregate row.
func computeDrifts(lotTotals, allocTotals []keyedQty, summaries []models.StockSummary) []Drift {
	type acc struct {
		lots, alloc, current int64
		summaryId            int
	}
	byKey := make(map[StockKey]*acc)
	get := func(k StockKey) *acc {
		a := byKey[k]
		if a == nil {
			a = &acc{}
			byKey[k] = a
		}
		return a
	}
	for _, t := range lotTotals {
		get(StockKey{t.ProductId, t.WarehouseId}).lots += t.Qty
	}
	for _, t := range allocTotals {
		get(StockKey{t.ProductId, t.WarehouseId}).alloc += t.Qty
	}
	for _, s := range summaries {
		a := get(StockKey{s.ProductId, s.WarehouseId})
		a.current = s.CurrentQty
		a.summaryId = s.ID
	}

	drifts := make([]Drift, 0)
	for k, a := range byKey {
		expected := a.lots - a.alloc
		if expected == a.current {
			continue
		}
		drifts = append(drifts, Drift{
			CheckType:      models.CheckTypeStockConservation,
			StockKey:       k,
			StockSummaryId: a.summaryId,
			LotQty:         a.lots,
			AllocatedQty:   a.alloc,
			ExpectedQty:    expected,
			CurrentQty:     a.current,
		})
	}
	sort.Slice(drifts, func(i, j int) bool {
		if drifts[i].WarehouseId != drifts[j].WarehouseId {
			return drifts[i].WarehouseId < drifts[j].WarehouseId
		}
		return drifts[i].ProductId < drifts[j].ProductId
	})
	return drifts
}
