package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/procurement_backend/models"
	"github.com/mmdatafocus/procurement_backend/utils"
	"github.com/mmdatafocus/procurement_backend/workflow"
)

// Capability names granted by the gateway besides plain target statuses.
const (
	capabilityCancel   = "cancel"
	capabilityReceipt  = "receipt"
	capabilityAllocate = "allocate"
	capabilityLedger   = "ledger"
	capabilityCatalog  = "catalog"
)

func actorFromContext(c *gin.Context) models.Actor {
	userId, _ := utils.GetUserIdFromContext(c.Request.Context())
	userName, _ := utils.GetUserNameFromContext(c.Request.Context())
	return models.Actor{UserId: userId, UserName: userName}
}

func pathId(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return false
	}
	return true
}

// writeWorkflowError maps workflow errors onto HTTP responses. Storage and ledger
// failures are reported generically; the detail stays in the logs.
func writeWorkflowError(c *gin.Context, err error) {
	var (
		transitionErr *workflow.TransitionError
		stockErr      *workflow.InsufficientStockError
		duplicateErr  *workflow.DuplicateExitError
		payloadErr    *workflow.PayloadError
	)
	switch {
	case errors.As(err, &duplicateErr):
		c.JSON(http.StatusOK, gin.H{"duplicate": true, "exit": duplicateErr.Exit})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": transitionErr.Reason,
			"current": transitionErr.Current,
			"target":  transitionErr.Target,
		})
	case errors.Is(err, workflow.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": err.Error()})
	case errors.Is(err, workflow.ErrAlreadyFulfilled):
		c.JSON(http.StatusConflict, gin.H{"error": "already_fulfilled", "message": err.Error()})
	case errors.Is(err, workflow.ErrLotConsumed):
		c.JSON(http.StatusConflict, gin.H{"error": "lot_consumed", "message": err.Error()})
	case errors.Is(err, workflow.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized"})
	case errors.As(err, &stockErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient_stock", "items": stockErr.Items})
	case errors.As(err, &payloadErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload", "fields": payloadErr.Fields})
	case errors.Is(err, workflow.ErrMissingLinkage):
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_linkage", "message": err.Error()})
	case errors.Is(err, workflow.ErrRequestNotFound), errors.Is(err, workflow.ErrLotNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, workflow.ErrFolioCollision):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "folio_collision", "message": "retry later"})
	case errors.Is(err, workflow.ErrLedgerStockMismatch):
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func (a *api) createCatalogWindowHandler(c *gin.Context) {
	if !utils.HasCapability(c.Request.Context(), capabilityCatalog) {
		writeWorkflowError(c, workflow.ErrUnauthorized)
		return
	}
	var input models.NewCatalogWindow
	if !bindJSON(c, &input) {
		return
	}
	if err := utils.Validator().Struct(&input); err != nil {
		writeWorkflowError(c, &workflow.PayloadError{Fields: utils.ProcessValidationErrors(err)})
		return
	}
	w, err := models.CreateCatalogWindow(c.Request.Context(), a.svc.Load().db, &input)
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (a *api) closeCatalogWindowHandler(c *gin.Context) {
	if !utils.HasCapability(c.Request.Context(), capabilityCatalog) {
		writeWorkflowError(c, workflow.ErrUnauthorized)
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	if err := models.CloseCatalogWindow(c.Request.Context(), a.svc.Load().db, id); err != nil {
		if models.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		writeWorkflowError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) createDraftHandler(c *gin.Context) {
	var input models.NewRequest
	if !bindJSON(c, &input) {
		return
	}
	input.Kind = models.RequestKind(strings.ToUpper(strings.TrimSpace(string(input.Kind))))
	req, err := a.svc.Load().lifecycle.CreateDraft(c.Request.Context(), &input, actorFromContext(c), a.now())
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (a *api) getRequestHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	req, exit, err := a.svc.Load().lifecycle.GetRequest(c.Request.Context(), id)
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req, "exit": exit})
}

func (a *api) getRequestHistoryHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	rows, err := models.ListRequestHistory(a.svc.Load().db.WithContext(c.Request.Context()), id)
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

type transitionBody struct {
	Expected string                  `json:"expected_status"`
	Target   string                  `json:"target_status"`
	Approved []workflow.ApprovedLine `json:"approved"`
}

func (a *api) transitionHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body transitionBody
	if !bindJSON(c, &body) {
		return
	}
	target := models.RequestStatus(strings.TrimSpace(body.Target))
	result, err := a.svc.Load().lifecycle.Transition(c.Request.Context(), workflow.TransitionInput{
		RequestId:  id,
		Expected:   models.RequestStatus(strings.TrimSpace(body.Expected)),
		Target:     target,
		Capability: utils.HasCapability(c.Request.Context(), string(target)),
		Approved:   body.Approved,
		Actor:      actorFromContext(c),
		Now:        a.now(),
	})
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type cancelBody struct {
	Reason string `json:"reason"`
}

func (a *api) cancelHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body cancelBody
	// the reason is optional, so an empty body is fine
	if c.Request.ContentLength > 0 && !bindJSON(c, &body) {
		return
	}
	req, err := a.svc.Load().lifecycle.Cancel(c.Request.Context(), workflow.CancelInput{
		RequestId:  id,
		Capability: utils.HasCapability(c.Request.Context(), capabilityCancel),
		Reason:     body.Reason,
		Actor:      actorFromContext(c),
		Now:        a.now(),
	})
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

type receiptBody struct {
	Lines []workflow.ReceivedLine `json:"lines"`
}

func (a *api) receiptHandler(c *gin.Context) {
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	var body receiptBody
	if !bindJSON(c, &body) {
		return
	}
	req, err := a.svc.Load().lifecycle.RecordReceipt(c.Request.Context(), workflow.ReceiptInput{
		RequestId:  id,
		Capability: utils.HasCapability(c.Request.Context(), capabilityReceipt),
		Lines:      body.Lines,
		Actor:      actorFromContext(c),
		Now:        a.now(),
	})
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// allocateHandler re-drives allocation for a request that is past its approval edge without an exit.
func (a *api) allocateHandler(c *gin.Context) {
	if !utils.HasCapability(c.Request.Context(), capabilityAllocate) {
		writeWorkflowError(c, workflow.ErrUnauthorized)
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	exit, err := a.svc.Load().allocator.Allocate(c.Request.Context(), id, actorFromContext(c), a.now())
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, exit)
}

func (a *api) receiveLotHandler(c *gin.Context) {
	if !utils.HasCapability(c.Request.Context(), capabilityLedger) {
		writeWorkflowError(c, workflow.ErrUnauthorized)
		return
	}
	var input models.NewInventoryLot
	if !bindJSON(c, &input) {
		return
	}
	lot, err := a.svc.Load().ledger.ReceiveLot(c.Request.Context(), &input, actorFromContext(c))
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lot)
}

func (a *api) voidLotHandler(c *gin.Context) {
	if !utils.HasCapability(c.Request.Context(), capabilityLedger) {
		writeWorkflowError(c, workflow.ErrUnauthorized)
		return
	}
	id, ok := pathId(c, "id")
	if !ok {
		return
	}
	if err := a.svc.Load().ledger.VoidLot(c.Request.Context(), id, actorFromContext(c)); err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *api) reconcileHandler(c *gin.Context) {
	if !utils.HasCapability(c.Request.Context(), capabilityLedger) {
		writeWorkflowError(c, workflow.ErrUnauthorized)
		return
	}
	warehouseId := 0
	if raw := strings.TrimSpace(c.Query("warehouse_id")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid warehouse_id"})
			return
		}
		warehouseId = n
	}
	drifts, err := a.svc.Load().reconciler.Check(c.Request.Context(), warehouseId)
	if err != nil {
		writeWorkflowError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drifts": drifts, "count": len(drifts)})
}
