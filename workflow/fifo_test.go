package workflow

import (
	"testing"
	"time"

	"github.com/mmdatafocus/procurement_backend/models"
	"github.com/shopspring/decimal"
)

func day(month time.Month, d int) time.Time {
	return time.Date(2024, month, d, 0, 0, 0, 0, time.UTC)
}

func assertTakes(t *testing.T, got []PlannedTake, want []PlannedTake) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d takes, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i].RequestLineId != want[i].RequestLineId || got[i].LotId != want[i].LotId || got[i].Qty != want[i].Qty {
			t.Fatalf("take %d: expected line=%d lot=%d qty=%d, got line=%d lot=%d qty=%d",
				i, want[i].RequestLineId, want[i].LotId, want[i].Qty, got[i].RequestLineId, got[i].LotId, got[i].Qty)
		}
	}
}

func TestPlanProduct_OldestLotFirst(t *testing.T) {
	// L2 is listed first on purpose; entry date decides.
	lots := []LotBalance{
		{LotId: 2, EntryDate: day(time.February, 1), Available: 5},
		{LotId: 1, EntryDate: day(time.January, 1), Available: 5},
	}
	demand := ProductDemand{ProductId: 9, Total: 7, Lines: []LineDemand{{RequestLineId: 100, Qty: 7}}}

	takes, short := PlanProduct(demand, lots)
	if short != 0 {
		t.Fatalf("expected no short, got %d", short)
	}
	assertTakes(t, takes, []PlannedTake{
		{RequestLineId: 100, LotId: 1, Qty: 5},
		{RequestLineId: 100, LotId: 2, Qty: 2},
	})
}

func TestPlanProduct_SingleLineAcrossTwoLots(t *testing.T) {
	lots := LotBalances([]models.InventoryLot{
		{ID: 11, EntryDate: day(time.January, 15), Quantity: 10, UnitCost: decimal.NewFromInt(4)},
		{ID: 10, EntryDate: day(time.January, 1), Quantity: 3, UnitCost: decimal.NewFromInt(2)},
	}, nil)
	demand := ProductDemand{ProductId: 1, Total: 8, Lines: []LineDemand{{RequestLineId: 1, Qty: 8}}}

	takes, short := PlanProduct(demand, lots)
	if short != 0 {
		t.Fatalf("expected no short, got %d", short)
	}
	assertTakes(t, takes, []PlannedTake{
		{RequestLineId: 1, LotId: 10, Qty: 3},
		{RequestLineId: 1, LotId: 11, Qty: 5},
	})
	if !takes[0].UnitCost.Equal(decimal.NewFromInt(2)) || !takes[1].UnitCost.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("unit cost must come from the consumed lot, got %s and %s", takes[0].UnitCost, takes[1].UnitCost)
	}
}

func TestPlanProduct_ReportsShortWhenLotsRunOut(t *testing.T) {
	lots := []LotBalance{
		{LotId: 10, EntryDate: day(time.January, 1), Available: 3},
		{LotId: 11, EntryDate: day(time.January, 15), Available: 10},
	}
	demand := ProductDemand{ProductId: 1, Total: 20, Lines: []LineDemand{{RequestLineId: 1, Qty: 20}}}

	_, short := PlanProduct(demand, lots)
	if short != 7 {
		t.Fatalf("expected short 7, got %d", short)
	}
}

func TestPlanProduct_SameEntryDateBreaksTieOnLotId(t *testing.T) {
	lots := []LotBalance{
		{LotId: 31, EntryDate: day(time.March, 3), Available: 4},
		{LotId: 30, EntryDate: day(time.March, 3), Available: 4},
	}
	demand := ProductDemand{ProductId: 1, Total: 5, Lines: []LineDemand{{RequestLineId: 1, Qty: 5}}}

	takes, _ := PlanProduct(demand, lots)
	assertTakes(t, takes, []PlannedTake{
		{RequestLineId: 1, LotId: 30, Qty: 4},
		{RequestLineId: 1, LotId: 31, Qty: 1},
	})
}

func TestPlanProduct_SkipsExhaustedLots(t *testing.T) {
	lots := LotBalances([]models.InventoryLot{
		{ID: 1, EntryDate: day(time.January, 1), Quantity: 5},
		{ID: 2, EntryDate: day(time.January, 2), Quantity: 5},
	}, map[int]int64{1: 5})
	demand := ProductDemand{ProductId: 1, Total: 2, Lines: []LineDemand{{RequestLineId: 1, Qty: 2}}}

	takes, short := PlanProduct(demand, lots)
	if short != 0 {
		t.Fatalf("expected no short, got %d", short)
	}
	assertTakes(t, takes, []PlannedTake{{RequestLineId: 1, LotId: 2, Qty: 2}})
}

func TestPlanProduct_LotCursorCarriesAcrossLines(t *testing.T) {
	lots := []LotBalance{
		{LotId: 1, EntryDate: day(time.January, 1), Available: 4},
		{LotId: 2, EntryDate: day(time.January, 2), Available: 6},
	}
	demand := ProductDemand{ProductId: 1, Total: 7, Lines: []LineDemand{
		{RequestLineId: 100, Qty: 3},
		{RequestLineId: 101, Qty: 4},
	}}

	takes, short := PlanProduct(demand, lots)
	if short != 0 {
		t.Fatalf("expected no short, got %d", short)
	}
	assertTakes(t, takes, []PlannedTake{
		{RequestLineId: 100, LotId: 1, Qty: 3},
		{RequestLineId: 101, LotId: 1, Qty: 1},
		{RequestLineId: 101, LotId: 2, Qty: 3},
	})
}

func TestPlanProduct_DoesNotMutateInput(t *testing.T) {
	lots := []LotBalance{{LotId: 1, EntryDate: day(time.January, 1), Available: 4}}
	PlanProduct(ProductDemand{ProductId: 1, Total: 4, Lines: []LineDemand{{RequestLineId: 1, Qty: 4}}}, lots)
	if lots[0].Available != 4 {
		t.Fatalf("input lots were modified: %+v", lots[0])
	}
}

func TestAggregateDemands_GroupsByProductAndSkipsZero(t *testing.T) {
	lines := []models.RequestLine{
		{ID: 3, Position: 3, ProductId: 7, ApprovedQty: 2},
		{ID: 1, Position: 1, ProductId: 7, ApprovedQty: 5},
		{ID: 2, Position: 2, ProductId: 4, ApprovedQty: 0},
		{ID: 4, Position: 4, ProductId: 5, ApprovedQty: 1},
	}

	got := AggregateDemands(lines)
	if len(got) != 2 {
		t.Fatalf("expected 2 products, got %+v", got)
	}
	if got[0].ProductId != 5 || got[0].Total != 1 {
		t.Fatalf("unexpected first demand %+v", got[0])
	}
	if got[1].ProductId != 7 || got[1].Total != 7 {
		t.Fatalf("unexpected second demand %+v", got[1])
	}
	if got[1].Lines[0].RequestLineId != 1 || got[1].Lines[1].RequestLineId != 3 {
		t.Fatalf("lines must keep request order, got %+v", got[1].Lines)
	}
}

func TestAggregateDemands_AllZeroIsEmpty(t *testing.T) {
	got := AggregateDemands([]models.RequestLine{{ID: 1, ProductId: 1, ApprovedQty: 0}})
	if len(got) != 0 {
		t.Fatalf("expected no demand, got %+v", got)
	}
}
