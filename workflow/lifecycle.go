package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/procurement_backend/config"
	"github.com/mmdatafocus/procurement_backend/models"
	"github.com/mmdatafocus/procurement_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// Lifecycle owns every status change of orders and requisitions.
// Capabilities arrive pre-resolved; this package never decides who may do what.
type Lifecycle struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	Locker    *redislock.Client
	Allocator *Allocator
	Hooks     []PostCommitHook
}

func NewLifecycle(db *gorm.DB, logger *logrus.Logger, locker *redislock.Client, hooks ...PostCommitHook) *Lifecycle {
	return &Lifecycle{
		DB:        db,
		Logger:    logger,
		Locker:    locker,
		Allocator: NewAllocator(db, logger),
		Hooks:     hooks,
	}
}

type ApprovedLine struct {
	RequestLineId int   `json:"request_line_id" validate:"required,gt=0"`
	Qty           int64 `json:"approved_qty" validate:"gte=0"`
}

type TransitionInput struct {
	RequestId  int                  `json:"request_id" validate:"required,gt=0"`
	Expected   models.RequestStatus `json:"expected_status" validate:"required"`
	Target     models.RequestStatus `json:"target_status" validate:"required"`
	Capability bool                 `json:"-"`
	Approved   []ApprovedLine       `json:"approved" validate:"dive"`
	Actor      models.Actor         `json:"-"`
	Now        time.Time            `json:"-"`
}

type TransitionResult struct {
	Request    *models.Request `json:"request"`
	Exit       *models.Exit    `json:"exit,omitempty"`
	HookErrors []error         `json:"-"`
}

type CancelInput struct {
	RequestId  int
	Capability bool
	Reason     string
	Actor      models.Actor
	Now        time.Time
}

type ReceivedLine struct {
	RequestLineId int   `json:"request_line_id" validate:"required,gt=0"`
	Qty           int64 `json:"received_qty" validate:"gte=0"`
}

type ReceiptInput struct {
	RequestId  int            `json:"request_id" validate:"required,gt=0"`
	Capability bool           `json:"-"`
	Lines      []ReceivedLine `json:"lines" validate:"required,min=1,dive"`
	Actor      models.Actor   `json:"-"`
	Now        time.Time      `json:"-"`
}

func (l *Lifecycle) lock(ctx context.Context, requestId int) utils.ReleaseFunc {
	if l.Locker == nil || !config.RequestLockEnabled() {
		return func() {}
	}
	return utils.ObtainRequestLock(ctx, l.Locker, l.Logger, requestId)
}

func validateInput(input interface{}) error {
	if err := utils.Validator().Struct(input); err != nil {
		return &PayloadError{Fields: utils.ProcessValidationErrors(err)}
	}
	return nil
}

// CreateDraft files a new request under an open catalog window with a fresh folio.
func (l *Lifecycle) CreateDraft(ctx context.Context, input *models.NewRequest, actor models.Actor, now time.Time) (*models.Request, error) {
	ctx, span := tracer.Start(ctx, "Lifecycle.CreateDraft")
	defer span.End()

	if input == nil {
		return nil, payloadError("request", "required")
	}
	if err := validateInput(input); err != nil {
		return nil, err
	}
	if now.IsZero() {
		return nil, payloadError("now", "required")
	}

	var req *models.Request
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		window, err := models.GetCatalogWindowShared(tx, input.CatalogWindowId)
		if err != nil {
			if models.IsNotFound(err) {
				return fmt.Errorf("%w: catalog window %d does not exist", ErrMissingLinkage, input.CatalogWindowId)
			}
			return err
		}
		if !window.IsOpenAt(now) {
			return fmt.Errorf("%w: catalog window %q is not open", ErrMissingLinkage, window.Name)
		}

		folio, err := models.NextFolio(tx, input.Kind.FolioPrefix(), now)
		if err != nil {
			config.LogError(l.Logger, "lifecycle.go", "CreateDraft", "NextFolio", input.Kind, err)
			return err
		}

		req = &models.Request{
			Kind:            input.Kind,
			Status:          models.InitialStatus(input.Kind),
			Folio:           folio,
			WarehouseId:     input.WarehouseId,
			CatalogWindowId: window.ID,
			AreaId:          input.AreaId,
			SubareaId:       input.SubareaId,
			Notes:           input.Notes,
			CreatedBy:       actor.UserId,
			CreatedByName:   actor.UserName,
			Lines:           input.BuildLines(),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.Create(req).Error; err != nil {
			config.LogError(l.Logger, "lifecycle.go", "CreateDraft", "Create request", input, err)
			return err
		}
		return models.CreateRequestHistory(tx, req.ID, models.HistoryActionCreate, "", req.Status, input,
			fmt.Sprintf("%s %s created.", req.Kind, req.Folio), actor, now)
	})
	if err != nil {
		span.RecordError(err)
		return nil, translateStorageErr(err)
	}

	l.runHooks(ctx, Snapshot{
		Event:   models.NotificationEventDraftCreated,
		Request: *req,
		Actor:   actor,
		Now:     now,
	})
	return req, nil
}

// Transition moves a request along one edge of its state graph. Allocation edges fix the approved
// quantities and produce the exit inside the same transaction as the status change.
func (l *Lifecycle) Transition(ctx context.Context, in TransitionInput) (*TransitionResult, error) {
	ctx, span := tracer.Start(ctx, "Lifecycle.Transition")
	defer span.End()
	span.SetAttributes(
		attribute.Int("request.id", in.RequestId),
		attribute.String("request.target", string(in.Target)),
	)

	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.Now.IsZero() {
		return nil, payloadError("now", "required")
	}

	release := l.lock(ctx, in.RequestId)
	defer release()

	var (
		req  *models.Request
		exit *models.Exit
		from models.RequestStatus
	)
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = models.GetRequestForUpdate(tx, in.RequestId)
		if err != nil {
			if models.IsNotFound(err) {
				return ErrRequestNotFound
			}
			return err
		}
		from = req.Status
		if !in.Capability {
			return fmt.Errorf("%w: %s -> %s", ErrUnauthorized, req.Status, in.Target)
		}
		allocating := models.IsAllocationTarget(req.Kind, in.Target)

		if allocating && req.ExitGenerated {
			existing, err := models.GetExitByRequest(tx, req.ID)
			if err != nil && !models.IsNotFound(err) {
				return err
			}
			return &DuplicateExitError{Exit: existing}
		}
		if in.Expected != req.Status {
			return &TransitionError{Kind: req.Kind, Current: req.Status, Expected: in.Expected, Target: in.Target,
				Reason: "request is no longer in the expected status"}
		}
		if !models.CanTransition(req.Kind, req.Status, in.Target) {
			return &TransitionError{Kind: req.Kind, Current: req.Status, Expected: in.Expected, Target: in.Target,
				Reason: "edge does not exist"}
		}
		if in.Target == models.RequestStatusDeleted && req.ExitGenerated {
			return ErrAlreadyFulfilled
		}

		if allocating {
			approved, err := validateApproved(req, in.Target, in.Approved)
			if err != nil {
				return err
			}
			if err := models.SetApprovedQty(tx, req.ID, approved); err != nil {
				return err
			}
			for i := range req.Lines {
				req.Lines[i].ApprovedQty = approved[req.Lines[i].ID]
			}
			approver := in.Actor.UserId
			req.ApprovedBy = &approver

			exit, err = l.Allocator.allocateInTx(tx, req, in.Actor, in.Now)
			if err != nil {
				return err
			}
		} else if len(in.Approved) > 0 {
			return payloadError("approved", "only allowed on an approval edge")
		}

		req.Status = in.Target
		req.StampTransition(in.Target, in.Now)
		req.UpdatedAt = in.Now
		if err := models.SaveRequestHeader(tx, req); err != nil {
			return err
		}

		description := fmt.Sprintf("%s %s moved from %s to %s.", req.Kind, req.Folio, from, in.Target)
		if exit != nil {
			description = fmt.Sprintf("%s %s moved from %s to %s with exit %s.", req.Kind, req.Folio, from, in.Target, exit.Folio)
		}
		return models.CreateRequestHistory(tx, req.ID, models.HistoryActionTransition, from, in.Target, in.Approved,
			description, in.Actor, in.Now)
	}, readCommitted)
	if err != nil {
		l.Allocator.reportFailure(ctx, in.RequestId, err)
		l.logRefusal("Transition", in.RequestId, in.Target, err)
		span.RecordError(err)
		return nil, translateStorageErr(err)
	}

	event := models.NotificationEventStatusChanged
	if exit != nil {
		event = models.NotificationEventExitIssued
	} else if in.Target == models.RequestStatusDeleted {
		event = models.NotificationEventCancelled
	}
	result := &TransitionResult{Request: req, Exit: exit}
	result.HookErrors = l.runHooks(ctx, Snapshot{
		Event:      event,
		Request:    *req,
		Exit:       exit,
		FromStatus: from,
		Actor:      in.Actor,
		Now:        in.Now,
	})
	return result, nil
}

// Cancel moves a request to deleted. Once an exit exists stock has physically moved and the
// request can no longer be withdrawn.
func (l *Lifecycle) Cancel(ctx context.Context, in CancelInput) (*models.Request, error) {
	ctx, span := tracer.Start(ctx, "Lifecycle.Cancel")
	defer span.End()

	if in.Now.IsZero() {
		return nil, payloadError("now", "required")
	}

	release := l.lock(ctx, in.RequestId)
	defer release()

	var (
		req  *models.Request
		from models.RequestStatus
	)
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = models.GetRequestForUpdate(tx, in.RequestId)
		if err != nil {
			if models.IsNotFound(err) {
				return ErrRequestNotFound
			}
			return err
		}
		from = req.Status
		if req.ExitGenerated {
			return ErrAlreadyFulfilled
		}
		if !models.CanTransition(req.Kind, req.Status, models.RequestStatusDeleted) {
			return &TransitionError{Kind: req.Kind, Current: req.Status, Target: models.RequestStatusDeleted,
				Reason: "request is already closed"}
		}
		if !in.Capability {
			return fmt.Errorf("%w: cancel", ErrUnauthorized)
		}
		req.Status = models.RequestStatusDeleted
		req.StampTransition(models.RequestStatusDeleted, in.Now)
		req.UpdatedAt = in.Now
		if err := models.SaveRequestHeader(tx, req); err != nil {
			return err
		}
		return models.CreateRequestHistory(tx, req.ID, models.HistoryActionCancel, from, req.Status,
			map[string]string{"reason": in.Reason},
			fmt.Sprintf("%s %s cancelled.", req.Kind, req.Folio), in.Actor, in.Now)
	})
	if err != nil {
		l.logRefusal("Cancel", in.RequestId, models.RequestStatusDeleted, err)
		span.RecordError(err)
		return nil, translateStorageErr(err)
	}

	l.runHooks(ctx, Snapshot{
		Event:      models.NotificationEventCancelled,
		Request:    *req,
		FromStatus: from,
		Actor:      in.Actor,
		Now:        in.Now,
	})
	return req, nil
}

// RecordReceipt fills received quantities after delivery. Received may not exceed approved.
func (l *Lifecycle) RecordReceipt(ctx context.Context, in ReceiptInput) (*models.Request, error) {
	ctx, span := tracer.Start(ctx, "Lifecycle.RecordReceipt")
	defer span.End()

	if err := validateInput(in); err != nil {
		return nil, err
	}
	if in.Now.IsZero() {
		return nil, payloadError("now", "required")
	}

	release := l.lock(ctx, in.RequestId)
	defer release()

	var req *models.Request
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = models.GetRequestForUpdate(tx, in.RequestId)
		if err != nil {
			if models.IsNotFound(err) {
				return ErrRequestNotFound
			}
			return err
		}
		if !req.ExitGenerated {
			return &TransitionError{Kind: req.Kind, Current: req.Status, Target: req.Status,
				Reason: "receipt requires an issued exit"}
		}
		if !in.Capability {
			return fmt.Errorf("%w: receipt", ErrUnauthorized)
		}
		received, err := validateReceived(req, in.Lines)
		if err != nil {
			return err
		}
		if err := models.SetReceivedQty(tx, req.ID, received); err != nil {
			return err
		}
		for i := range req.Lines {
			if q, ok := received[req.Lines[i].ID]; ok {
				req.Lines[i].ReceivedQty = q
			}
		}
		t := in.Now
		req.ReceivedAt = &t
		req.UpdatedAt = in.Now
		if err := models.SaveRequestHeader(tx, req); err != nil {
			return err
		}
		return models.CreateRequestHistory(tx, req.ID, models.HistoryActionReceipt, req.Status, req.Status, in.Lines,
			fmt.Sprintf("Receipt recorded for %s.", req.Folio), in.Actor, in.Now)
	})
	if err != nil {
		l.logRefusal("RecordReceipt", in.RequestId, "", err)
		span.RecordError(err)
		return nil, translateStorageErr(err)
	}
	return req, nil
}

// GetRequest loads a request with lines for read endpoints.
func (l *Lifecycle) GetRequest(ctx context.Context, requestId int) (*models.Request, *models.Exit, error) {
	req, err := models.GetRequest(l.DB.WithContext(ctx), requestId)
	if err != nil {
		if models.IsNotFound(err) {
			return nil, nil, ErrRequestNotFound
		}
		return nil, nil, translateStorageErr(err)
	}
	if !req.ExitGenerated {
		return req, nil, nil
	}
	exit, err := models.GetExitByRequest(l.DB.WithContext(ctx), requestId)
	if err != nil && !models.IsNotFound(err) {
		return nil, nil, translateStorageErr(err)
	}
	return req, exit, nil
}

// validateApproved checks the approval payload against the locked request lines.
func validateApproved(req *models.Request, target models.RequestStatus, lines []ApprovedLine) (map[int]int64, error) {
	byLine := make(map[int]models.RequestLine, len(req.Lines))
	for _, l := range req.Lines {
		byLine[l.ID] = l
	}
	approved := make(map[int]int64, len(lines))
	for _, a := range lines {
		line, ok := byLine[a.RequestLineId]
		if !ok {
			return nil, payloadError(fmt.Sprintf("approved[%d]", a.RequestLineId), "line does not belong to request")
		}
		if _, dup := approved[a.RequestLineId]; dup {
			return nil, payloadError(fmt.Sprintf("approved[%d]", a.RequestLineId), "duplicate line")
		}
		if a.Qty < 0 || a.Qty > line.RequestedQty {
			return nil, payloadError(fmt.Sprintf("approved[%d]", a.RequestLineId), "must be between 0 and requested_qty")
		}
		approved[a.RequestLineId] = a.Qty
	}
	if len(approved) != len(byLine) {
		return nil, payloadError("approved", "every line must be listed")
	}

	if req.Kind == models.RequestKindOrder {
		short := false
		for id, qty := range approved {
			if qty < byLine[id].RequestedQty {
				short = true
				break
			}
		}
		if target == models.RequestStatusCompleted && short {
			return nil, &TransitionError{Kind: req.Kind, Current: req.Status, Expected: req.Status, Target: target,
				Reason: "completed requires every line fully approved; use partially_received"}
		}
		if target == models.RequestStatusPartiallyReceived && !short {
			return nil, &TransitionError{Kind: req.Kind, Current: req.Status, Expected: req.Status, Target: target,
				Reason: "every line is fully approved; use completed"}
		}
	}
	return approved, nil
}

func validateReceived(req *models.Request, lines []ReceivedLine) (map[int]int64, error) {
	byLine := make(map[int]models.RequestLine, len(req.Lines))
	for _, l := range req.Lines {
		byLine[l.ID] = l
	}
	received := make(map[int]int64, len(lines))
	for _, r := range lines {
		line, ok := byLine[r.RequestLineId]
		if !ok {
			return nil, payloadError(fmt.Sprintf("lines[%d]", r.RequestLineId), "line does not belong to request")
		}
		if _, dup := received[r.RequestLineId]; dup {
			return nil, payloadError(fmt.Sprintf("lines[%d]", r.RequestLineId), "duplicate line")
		}
		if r.Qty < 0 || r.Qty > line.ApprovedQty {
			return nil, payloadError(fmt.Sprintf("lines[%d]", r.RequestLineId), "must be between 0 and approved_qty")
		}
		received[r.RequestLineId] = r.Qty
	}
	return received, nil
}

// logRefusal keeps expected business refusals at info level and everything else at error.
func (l *Lifecycle) logRefusal(funcName string, requestId int, target models.RequestStatus, err error) {
	if l.Logger == nil {
		return
	}
	fields := logrus.Fields{
		"field":      "Lifecycle",
		"funcName":   funcName,
		"request_id": requestId,
		"target":     target,
	}
	switch {
	case errors.Is(err, ErrLedgerStockMismatch):
		// already reported with full diagnosis by the allocator
	case isDomainError(err) && !errors.Is(err, ErrStorage):
		l.Logger.WithFields(fields).Info(err.Error())
	default:
		config.LogError(l.Logger, "lifecycle.go", funcName, "transaction", fields, err)
	}
}
