package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Request struct {
	ID              int           `gorm:"primary_key" json:"id"`
	Kind            RequestKind   `gorm:"size:20;index;not null" json:"kind"`
	Status          RequestStatus `gorm:"size:40;index;not null" json:"status"`
	Folio           string        `gorm:"size:40;uniqueIndex;not null" json:"folio"`
	WarehouseId     int           `gorm:"index;not null" json:"warehouse_id"`
	CatalogWindowId int           `gorm:"index;not null" json:"catalog_window_id"`
	AreaId          int           `gorm:"index;not null" json:"area_id"`
	SubareaId       *int          `gorm:"index" json:"subarea_id"`
	Notes           string        `gorm:"type:text" json:"notes"`
	CreatedBy       int           `gorm:"index;not null" json:"created_by"`
	CreatedByName   string        `gorm:"size:100" json:"created_by_name"`
	ApprovedBy      *int          `json:"approved_by"`

	SentAt               *time.Time `json:"sent_at"`
	BudgetRequestedAt    *time.Time `json:"budget_requested_at"`
	BudgetValidatedAt    *time.Time `json:"budget_validated_at"`
	WarehouseRequestedAt *time.Time `json:"warehouse_requested_at"`
	ApprovedAt           *time.Time `json:"approved_at"`
	FulfilledAt          *time.Time `json:"fulfilled_at"`
	ReceivedAt           *time.Time `json:"received_at"`
	DeletedAtState       *time.Time `json:"deleted_at_state"`

	ExitGenerated bool          `gorm:"not null;default:false" json:"exit_generated"`
	ExitId        *int          `gorm:"index" json:"exit_id"`
	Lines         []RequestLine `gorm:"foreignKey:RequestId" json:"lines"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

type RequestLine struct {
	ID           int       `gorm:"primary_key" json:"id"`
	RequestId    int       `gorm:"index;not null" json:"request_id"`
	Position     int       `gorm:"not null" json:"position"`
	ProductId    int       `gorm:"index;not null" json:"product_id"`
	Unit         string    `gorm:"size:20;not null" json:"unit"`
	RequestedQty int64     `gorm:"not null" json:"requested_qty"`
	ApprovedQty  int64     `gorm:"not null;default:0" json:"approved_qty"`
	ReceivedQty  int64     `gorm:"not null;default:0" json:"received_qty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewRequest struct {
	Kind            RequestKind      `json:"kind" validate:"required,oneof=ORDER REQUISITION"`
	WarehouseId     int              `json:"warehouse_id" validate:"required,gt=0"`
	CatalogWindowId int              `json:"catalog_window_id" validate:"required,gt=0"`
	AreaId          int              `json:"area_id" validate:"required,gt=0"`
	SubareaId       *int             `json:"subarea_id" validate:"omitempty,gt=0"`
	Notes           string           `json:"notes" validate:"max=2000"`
	Lines           []NewRequestLine `json:"lines" validate:"required,min=1,dive"`
}

type NewRequestLine struct {
	ProductId    int    `json:"product_id" validate:"required,gt=0"`
	Unit         string `json:"unit" validate:"required,max=20"`
	RequestedQty int64  `json:"requested_qty" validate:"gt=0"`
}

// BuildLines maps input lines in order. Approved and received quantities start at zero.
func (input *NewRequest) BuildLines() []RequestLine {
	lines := make([]RequestLine, 0, len(input.Lines))
	for i, l := range input.Lines {
		lines = append(lines, RequestLine{
			Position:     i + 1,
			ProductId:    l.ProductId,
			Unit:         l.Unit,
			RequestedQty: l.RequestedQty,
		})
	}
	return lines
}

func preloadLines(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC, id ASC")
}

// GetRequest loads a request with its lines without locking.
func GetRequest(tx *gorm.DB, id int) (*Request, error) {
	var r Request
	if err := tx.Preload("Lines", preloadLines).First(&r, id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRequestForUpdate locks the request row for the rest of the transaction, then loads its lines.
func GetRequestForUpdate(tx *gorm.DB, id int) (*Request, error) {
	var r Request
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&r, id).Error; err != nil {
		return nil, err
	}
	if err := preloadLines(tx).Where("request_id = ?", r.ID).Find(&r.Lines).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// StampTransition records the timestamp column associated with entering status.
func (r *Request) StampTransition(status RequestStatus, now time.Time) {
	t := now
	switch status {
	case RequestStatusSent:
		r.SentAt = &t
	case RequestStatusPendingBudgetValidation:
		r.BudgetRequestedAt = &t
	case RequestStatusBudgetValidated:
		r.BudgetValidatedAt = &t
	case RequestStatusPendingWarehouse:
		r.WarehouseRequestedAt = &t
	case RequestStatusApproved:
		r.ApprovedAt = &t
		r.FulfilledAt = &t
	case RequestStatusCompleted, RequestStatusPartiallyReceived:
		r.ApprovedAt = &t
		r.FulfilledAt = &t
	case RequestStatusDeleted:
		r.DeletedAtState = &t
	}
}

// SaveRequestHeader persists header columns only. Lines are written explicitly by their owners.
func SaveRequestHeader(tx *gorm.DB, r *Request) error {
	return tx.Model(r).Select("*").Omit("id", "created_at", "Lines").Updates(r).Error
}

// SetApprovedQty writes approved quantities keyed by line id.
// Callers must hold the request row lock and have checked exit_generated.
func SetApprovedQty(tx *gorm.DB, requestId int, approved map[int]int64) error {
	for lineId, qty := range approved {
		if err := tx.Model(&RequestLine{}).
			Where("id = ? AND request_id = ?", lineId, requestId).
			Update("approved_qty", qty).Error; err != nil {
			return err
		}
	}
	return nil
}

func SetReceivedQty(tx *gorm.DB, requestId int, received map[int]int64) error {
	for lineId, qty := range received {
		if err := tx.Model(&RequestLine{}).
			Where("id = ? AND request_id = ?", lineId, requestId).
			Update("received_qty", qty).Error; err != nil {
			return err
		}
	}
	return nil
}
