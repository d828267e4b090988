package workflow

import (
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/procurement_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const maxFolioAttempts = 3

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// ExitFolio derives the human readable exit number from the request id, e.g. "SAL-2024-000042".
func ExitFolio(requestId int, now time.Time) string {
	return fmt.Sprintf("SAL-%04d-%06d", now.UTC().Year(), requestId)
}

func folioCandidate(base string, attempt int) string {
	if attempt == 0 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, attempt+1)
}

// persistExit writes the exit header, its allocation lines, the stock decrements and the
// request back reference. Any error leaves the caller's transaction to roll back.
func persistExit(tx *gorm.DB, req *models.Request, takes []PlannedTake, summaries map[int]models.StockSummary, actor models.Actor, now time.Time) (*models.Exit, error) {
	exit := &models.Exit{
		Status:      models.ExitStatusIssued,
		RequestId:   req.ID,
		WarehouseId: req.WarehouseId,
		ExitDate:    now,
		IssuedBy:    actor.UserId,
	}
	issued := make(map[int]int64)
	for _, t := range takes {
		exit.TotalQty += t.Qty
		exit.TotalCost = exit.TotalCost.Add(t.UnitCost.Mul(decimal.NewFromInt(t.Qty)))
		issued[t.ProductId] += t.Qty
	}

	if err := createExitHeader(tx, exit, now); err != nil {
		return nil, err
	}

	lines := make([]models.AllocationLine, 0, len(takes))
	for _, t := range takes {
		lines = append(lines, models.AllocationLine{
			ExitId:         exit.ID,
			RequestLineId:  t.RequestLineId,
			ProductId:      t.ProductId,
			InventoryLotId: t.LotId,
			Quantity:       t.Qty,
			UnitCost:       t.UnitCost,
		})
	}
	if len(lines) > 0 {
		if err := tx.Create(&lines).Error; err != nil {
			return nil, err
		}
	}
	exit.Lines = lines

	for productId, qty := range issued {
		summary, ok := summaries[productId]
		if !ok {
			return nil, fmt.Errorf("stock summary for product %d was not locked", productId)
		}
		if err := models.IssueStock(tx, summary.ID, qty); err != nil {
			return nil, err
		}
	}

	res := tx.Model(&models.Request{}).
		Where("id = ? AND exit_generated = ?", req.ID, false).
		Updates(map[string]interface{}{
			"exit_generated": true,
			"exit_id":        exit.ID,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		return nil, &DuplicateExitError{}
	}
	req.ExitGenerated = true
	req.ExitId = &exit.ID
	return exit, nil
}

// createExitHeader inserts the header, retrying with a suffixed folio on a unique key collision.
// Each attempt runs behind a savepoint so a failed insert does not poison the transaction.
func createExitHeader(tx *gorm.DB, exit *models.Exit, now time.Time) error {
	base := ExitFolio(exit.RequestId, now)
	for attempt := 0; attempt < maxFolioAttempts; attempt++ {
		exit.ID = 0
		exit.Folio = folioCandidate(base, attempt)
		sp := fmt.Sprintf("exit_folio_%d", attempt)
		if err := tx.SavePoint(sp).Error; err != nil {
			return err
		}
		err := tx.Omit("Lines").Create(exit).Error
		if err == nil {
			return nil
		}
		if rbErr := tx.RollbackTo(sp).Error; rbErr != nil {
			return rbErr
		}
		if !isDuplicateKeyErr(err) {
			return err
		}
		// request_id is unique too; a hit there is a second exit, not a folio clash.
		if existing, lookupErr := models.GetExitByRequest(tx, exit.RequestId); lookupErr == nil {
			return &DuplicateExitError{Exit: existing}
		}
	}
	return ErrFolioCollision
}
