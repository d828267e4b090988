package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/procurement_backend/config"
	"github.com/mmdatafocus/procurement_backend/models"
	"github.com/mmdatafocus/procurement_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var tracer = otel.Tracer("procurement-workflow")

// readCommitted lets every statement after the stock row lock see the latest committed lots
// and allocation lines instead of the snapshot taken at the first read.
var readCommitted = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

type Allocator struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func NewAllocator(db *gorm.DB, logger *logrus.Logger) *Allocator {
	return &Allocator{DB: db, Logger: logger}
}

// Allocate re-drives allocation for a request whose status already passed its allocation edge
// without an exit. A request that has an exit returns DuplicateExitError carrying it.
func (a *Allocator) Allocate(ctx context.Context, requestId int, actor models.Actor, now time.Time) (*models.Exit, error) {
	ctx, span := tracer.Start(ctx, "Allocator.Allocate")
	defer span.End()
	span.SetAttributes(attribute.Int("request.id", requestId))

	var exit *models.Exit
	err := a.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := models.GetRequestForUpdate(tx, requestId)
		if err != nil {
			if models.IsNotFound(err) {
				return ErrRequestNotFound
			}
			return err
		}
		if !req.ExitGenerated && !models.IsAllocationTarget(req.Kind, req.Status) {
			return &TransitionError{
				Kind:    req.Kind,
				Current: req.Status,
				Target:  req.Status,
				Reason:  "request has not passed its approval edge",
			}
		}
		exit, err = a.allocateInTx(tx, req, actor, now)
		if err != nil {
			return err
		}
		return models.CreateRequestHistory(tx, req.ID, models.HistoryActionAllocate, req.Status, req.Status,
			map[string]interface{}{"exit_id": exit.ID, "folio": exit.Folio},
			fmt.Sprintf("Exit %s issued by re-drive.", exit.Folio), actor, now)
	}, readCommitted)
	if err != nil {
		a.reportFailure(ctx, requestId, err)
		span.RecordError(err)
		return nil, translateStorageErr(err)
	}
	return exit, nil
}

// allocateInTx runs inside the caller's transaction with the request row already locked.
// It either persists a complete exit or returns an error and leaves rollback to the caller.
func (a *Allocator) allocateInTx(tx *gorm.DB, req *models.Request, actor models.Actor, now time.Time) (*models.Exit, error) {
	// At-most-once guard: re-read under the row lock, never trust the caller's copy.
	var guard struct {
		ExitGenerated bool
	}
	if err := tx.Model(&models.Request{}).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("exit_generated").
		Where("id = ?", req.ID).
		Take(&guard).Error; err != nil {
		return nil, err
	}
	if guard.ExitGenerated {
		existing, err := models.GetExitByRequest(tx, req.ID)
		if err != nil && !models.IsNotFound(err) {
			return nil, err
		}
		return nil, &DuplicateExitError{Exit: existing}
	}

	demands := AggregateDemands(req.Lines)
	if len(demands) == 0 {
		return nil, payloadError("approved", "at least one line must be approved with a positive quantity")
	}

	productIds := make([]int, 0, len(demands))
	for _, d := range demands {
		productIds = append(productIds, d.ProductId)
	}
	summaries, err := models.LockStockSummaries(tx, req.WarehouseId, productIds)
	if err != nil {
		config.LogError(a.Logger, "allocator.go", "allocateInTx", "LockStockSummaries", productIds, err)
		return nil, err
	}

	shortages := make([]Shortage, 0)
	for _, d := range demands {
		available := summaries[d.ProductId].CurrentQty
		if available < d.Total {
			shortages = append(shortages, Shortage{ProductId: d.ProductId, Available: available, Needed: d.Total})
		}
	}
	if len(shortages) > 0 {
		return nil, &InsufficientStockError{Items: shortages}
	}

	takes := make([]PlannedTake, 0)
	for _, d := range demands {
		lots, err := models.ListFifoLots(tx, req.WarehouseId, d.ProductId)
		if err != nil {
			return nil, err
		}
		lotIds := make([]int, 0, len(lots))
		for _, l := range lots {
			lotIds = append(lotIds, l.ID)
		}
		consumed, err := models.ConsumedByLot(tx, lotIds)
		if err != nil {
			return nil, err
		}
		planned, short := PlanProduct(d, LotBalances(lots, consumed))
		if short > 0 {
			return nil, &LedgerStockMismatchError{ProductId: d.ProductId, WarehouseId: req.WarehouseId, Short: short}
		}
		takes = append(takes, planned...)
	}

	exit, err := persistExit(tx, req, takes, summaries, actor, now)
	if err != nil {
		var dup *DuplicateExitError
		if !errors.As(err, &dup) && !errors.Is(err, ErrFolioCollision) {
			config.LogError(a.Logger, "allocator.go", "allocateInTx", "persistExit", req.ID, err)
		}
		return nil, err
	}
	return exit, nil
}

// reportFailure records ledger mismatches outside the rolled back transaction. Stock is never healed here.
func (a *Allocator) reportFailure(ctx context.Context, requestId int, err error) {
	var mismatch *LedgerStockMismatchError
	if !errors.As(err, &mismatch) {
		return
	}
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	if a.Logger != nil {
		a.Logger.WithFields(logrus.Fields{
			"field":          "Allocator",
			"severity":       "critical",
			"request_id":     requestId,
			"product_id":     mismatch.ProductId,
			"warehouse_id":   mismatch.WarehouseId,
			"short":          mismatch.Short,
			"correlation_id": correlationId,
		}).Error("stock aggregate exceeds lot ledger; allocation refused")
	}
	if a.DB == nil {
		return
	}
	report := models.ReconciliationReport{
		CheckType:     models.CheckTypeLedgerStockMismatch,
		EntityType:    "Request",
		EntityId:      requestId,
		ProductId:     mismatch.ProductId,
		WarehouseId:   mismatch.WarehouseId,
		ActualQty:     mismatch.Short,
		Details:       mismatch.Error(),
		CorrelationId: correlationId,
	}
	// The request context may already be done when the caller disconnected.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if werr := models.CreateReconciliationReports(a.DB.WithContext(writeCtx), []models.ReconciliationReport{report}); werr != nil {
		config.LogError(a.Logger, "allocator.go", "reportFailure", "CreateReconciliationReports", report, werr)
	}
}
