package models

import "time"

// ActivityLog is an audit entry recorded out-of-band for presence transitions.
// Its persistence never blocks or reverts the presence mutation that produced it.
type ActivityLog struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ClientID    string    `gorm:"index;not null" json:"clientId"`
	UserID      string    `gorm:"index;not null" json:"userId"`
	Action      string    `gorm:"not null" json:"action"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (ActivityLog) TableName() string {
	return "activity_logs"
}
