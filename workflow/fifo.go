package workflow

import (
	"sort"
	"time"

	"github.com/mmdatafocus/procurement_backend/models"
	"github.com/shopspring/decimal"
)

// LineDemand is the approved quantity of one request line.
type LineDemand struct {
	RequestLineId int
	Qty           int64
}

// ProductDemand groups the line demands of one product in line order.
type ProductDemand struct {
	ProductId int
	Total     int64
	Lines     []LineDemand
}

// LotBalance is what is left in a lot after earlier allocations.
type LotBalance struct {
	LotId     int
	EntryDate time.Time
	Available int64
	UnitCost  decimal.Decimal
}

// PlannedTake is one allocation line before it is persisted.
type PlannedTake struct {
	RequestLineId int
	ProductId     int
	LotId         int
	Qty           int64
	UnitCost      decimal.Decimal
}

// AggregateDemands folds approved quantities per product, ordered by product id.
// Zero quantity lines are skipped.
func AggregateDemands(lines []models.RequestLine) []ProductDemand {
	byProduct := make(map[int]*ProductDemand)
	ordered := make([]models.RequestLine, len(lines))
	copy(ordered, lines)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Position != ordered[j].Position {
			return ordered[i].Position < ordered[j].Position
		}
		return ordered[i].ID < ordered[j].ID
	})
	for _, l := range ordered {
		if l.ApprovedQty <= 0 {
			continue
		}
		d := byProduct[l.ProductId]
		if d == nil {
			d = &ProductDemand{ProductId: l.ProductId}
			byProduct[l.ProductId] = d
		}
		d.Total += l.ApprovedQty
		d.Lines = append(d.Lines, LineDemand{RequestLineId: l.ID, Qty: l.ApprovedQty})
	}
	out := make([]ProductDemand, 0, len(byProduct))
	for _, d := range byProduct {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductId < out[j].ProductId })
	return out
}

// LotBalances subtracts consumed quantities from lots and returns them oldest first.
func LotBalances(lots []models.InventoryLot, consumed map[int]int64) []LotBalance {
	out := make([]LotBalance, 0, len(lots))
	for _, lot := range lots {
		out = append(out, LotBalance{
			LotId:     lot.ID,
			EntryDate: lot.EntryDate,
			Available: lot.Quantity - consumed[lot.ID],
			UnitCost:  lot.UnitCost,
		})
	}
	sortFifo(out)
	return out
}

func sortFifo(lots []LotBalance) {
	sort.SliceStable(lots, func(i, j int) bool {
		if !lots[i].EntryDate.Equal(lots[j].EntryDate) {
			return lots[i].EntryDate.Before(lots[j].EntryDate)
		}
		return lots[i].LotId < lots[j].LotId
	})
}

// PlanProduct walks lots oldest first and splits them across the product's lines.
// It returns the takes and the quantity it could not place. A non-zero short means the
// ledger cannot back the demand.
func PlanProduct(demand ProductDemand, lots []LotBalance) ([]PlannedTake, int64) {
	sorted := make([]LotBalance, len(lots))
	copy(sorted, lots)
	sortFifo(sorted)

	takes := make([]PlannedTake, 0)
	cursor := 0
	var short int64
	for _, line := range demand.Lines {
		remaining := line.Qty
		for remaining > 0 && cursor < len(sorted) {
			lot := &sorted[cursor]
			if lot.Available <= 0 {
				cursor++
				continue
			}
			take := min64(lot.Available, remaining)
			takes = append(takes, PlannedTake{
				RequestLineId: line.RequestLineId,
				ProductId:     demand.ProductId,
				LotId:         lot.LotId,
				Qty:           take,
				UnitCost:      lot.UnitCost,
			})
			lot.Available -= take
			remaining -= take
		}
		short += remaining
	}
	return takes, short
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
