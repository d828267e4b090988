package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mmdatafocus/procurement_backend/models"
)

var (
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrDuplicateExit       = errors.New("exit already generated")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrLedgerStockMismatch = errors.New("ledger and stock aggregate disagree")
	ErrFolioCollision      = errors.New("exit folio collision")
	ErrAlreadyFulfilled    = errors.New("request already fulfilled")
	ErrMissingLinkage      = errors.New("missing required linkage")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrRequestNotFound     = errors.New("request not found")
	ErrLotNotFound         = errors.New("inventory lot not found")
	ErrLotConsumed         = errors.New("inventory lot already consumed")
	ErrStorage             = errors.New("storage failure")
)

// TransitionError explains why an edge was refused.
type TransitionError struct {
	Kind     models.RequestKind
	Current  models.RequestStatus
	Expected models.RequestStatus
	Target   models.RequestStatus
	Reason   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for %s: %s", e.Current, e.Target, e.Kind, e.Reason)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

type Shortage struct {
	ProductId int   `json:"product_id"`
	Available int64 `json:"available"`
	Needed    int64 `json:"needed"`
}

// InsufficientStockError lists every product whose aggregate cannot cover its demand.
type InsufficientStockError struct {
	Items []Shortage `json:"items"`
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Items))
	for _, s := range e.Items {
		parts = append(parts, fmt.Sprintf("product %d available %d needed %d", s.ProductId, s.Available, s.Needed))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// LedgerStockMismatchError means the aggregate claimed enough stock but the lots ran out.
type LedgerStockMismatchError struct {
	ProductId   int
	WarehouseId int
	Short       int64
}

func (e *LedgerStockMismatchError) Error() string {
	return fmt.Sprintf("ledger stock mismatch: product %d warehouse %d short %d", e.ProductId, e.WarehouseId, e.Short)
}

func (e *LedgerStockMismatchError) Is(target error) bool { return target == ErrLedgerStockMismatch }

// DuplicateExitError carries the exit produced by the earlier successful call.
type DuplicateExitError struct {
	Exit *models.Exit
}

func (e *DuplicateExitError) Error() string {
	if e.Exit == nil {
		return ErrDuplicateExit.Error()
	}
	return fmt.Sprintf("exit already generated: %s", e.Exit.Folio)
}

func (e *DuplicateExitError) Is(target error) bool { return target == ErrDuplicateExit }

// PayloadError carries field level validation failures.
type PayloadError struct {
	Fields map[string]string
}

func (e *PayloadError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		parts = append(parts, k+": "+v)
	}
	return "invalid payload: " + strings.Join(parts, ", ")
}

func (e *PayloadError) Is(target error) bool { return target == ErrInvalidPayload }

func payloadError(field, reason string) error {
	return &PayloadError{Fields: map[string]string{field: reason}}
}

// isDomainError reports whether err is already part of the workflow taxonomy.
func isDomainError(err error) bool {
	for _, known := range []error{
		ErrInvalidTransition, ErrUnauthorized, ErrDuplicateExit, ErrInsufficientStock,
		ErrLedgerStockMismatch, ErrFolioCollision, ErrAlreadyFulfilled, ErrMissingLinkage,
		ErrInvalidPayload, ErrRequestNotFound, ErrLotNotFound, ErrLotConsumed, ErrStorage,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}

// translateStorageErr keeps driver errors from leaking to callers.
func translateStorageErr(err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorage, err)
}
