package workflow

import (
	"testing"

	"github.com/mmdatafocus/procurement_backend/models"
)

func TestComputeDrifts_ConservedKeysAreClean(t *testing.T) {
	lots := []keyedQty{{ProductId: 1, WarehouseId: 1, Qty: 13}}
	allocs := []keyedQty{{ProductId: 1, WarehouseId: 1, Qty: 8}}
	summaries := []models.StockSummary{{ID: 3, ProductId: 1, WarehouseId: 1, CurrentQty: 5}}

	if drifts := computeDrifts(lots, allocs, summaries); len(drifts) != 0 {
		t.Fatalf("expected no drift, got %+v", drifts)
	}
}

func TestComputeDrifts_ReportsMismatchAndMissingAggregate(t *testing.T) {
	lots := []keyedQty{
		{ProductId: 2, WarehouseId: 1, Qty: 10},
		{ProductId: 1, WarehouseId: 1, Qty: 4},
	}
	allocs := []keyedQty{{ProductId: 2, WarehouseId: 1, Qty: 3}}
	summaries := []models.StockSummary{
		{ID: 7, ProductId: 2, WarehouseId: 1, CurrentQty: 6},
	}

	drifts := computeDrifts(lots, allocs, summaries)
	if len(drifts) != 2 {
		t.Fatalf("expected 2 drifts, got %+v", drifts)
	}
	// sorted by warehouse then product
	missing, short := drifts[0], drifts[1]
	if missing.ProductId != 1 || missing.StockSummaryId != 0 || missing.ExpectedQty != 4 || missing.CurrentQty != 0 {
		t.Fatalf("unexpected drift for key without aggregate %+v", missing)
	}
	if short.ProductId != 2 || short.StockSummaryId != 7 || short.ExpectedQty != 7 || short.CurrentQty != 6 {
		t.Fatalf("unexpected drift %+v", short)
	}
	if short.CheckType != models.CheckTypeStockConservation {
		t.Fatalf("unexpected check type %q", short.CheckType)
	}
}

func TestComputeDrifts_AggregateWithoutLots(t *testing.T) {
	summaries := []models.StockSummary{{ID: 1, ProductId: 9, WarehouseId: 2, CurrentQty: 3}}
	drifts := computeDrifts(nil, nil, summaries)
	if len(drifts) != 1 || drifts[0].ExpectedQty != 0 || drifts[0].CurrentQty != 3 {
		t.Fatalf("unexpected drifts %+v", drifts)
	}
}
