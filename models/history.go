package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

type RequestHistory struct {
	ID          int           `gorm:"primary_key" json:"id"`
	RequestId   int           `gorm:"index;not null" json:"request_id"`
	Action      HistoryAction `gorm:"size:20;not null" json:"action"`
	FromStatus  RequestStatus `gorm:"size:40" json:"from_status"`
	ToStatus    RequestStatus `gorm:"size:40" json:"to_status"`
	Payload     string        `gorm:"type:text" json:"payload"`
	Description string        `gorm:"type:text;not null" json:"description"`
	UserId      int           `gorm:"index;not null" json:"user_id"`
	UserName    string        `gorm:"size:100" json:"user_name"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Actor identifies who performs a lifecycle action. It is passed explicitly, never read from ambient state.
type Actor struct {
	UserId   int    `json:"user_id"`
	UserName string `json:"user_name"`
}

func CreateRequestHistory(tx *gorm.DB,
	requestId int,
	action HistoryAction,
	from RequestStatus,
	to RequestStatus,
	payload interface{},
	description string,
	actor Actor,
	now time.Time) error {

	var p []byte
	if payload != nil {
		p, _ = json.Marshal(payload)
	}
	history := RequestHistory{
		RequestId:   requestId,
		Action:      action,
		FromStatus:  from,
		ToStatus:    to,
		Payload:     string(p),
		Description: description,
		UserId:      actor.UserId,
		UserName:    actor.UserName,
		CreatedAt:   now,
	}
	return tx.Create(&history).Error
}

func ListRequestHistory(tx *gorm.DB, requestId int) ([]RequestHistory, error) {
	var rows []RequestHistory
	err := tx.Where("request_id = ?", requestId).Order("id ASC").Find(&rows).Error
	return rows, err
}
