package entities

import (
	"time"

	"iris/constant"
)

type Task struct {
	ID           string              `json:"id" gorm:"type:varchar(36);primaryKey"`
	Title        string              `json:"title" gorm:"type:varchar(500);not null"`
	Details      string              `json:"details,omitempty" gorm:"type:text"`
	Status       constant.TaskStatus `json:"status" gorm:"type:varchar(20);not null;default:'pending'"`
	Assignee     string              `json:"assignee" gorm:"type:varchar(255)"`
	DueDate      string              `json:"dueDate,omitempty" gorm:"type:varchar(64)"`
	CreatedAt    time.Time           `json:"createdAt" gorm:"not null"`
	MeetingID    *string             `json:"meetingId,omitempty" gorm:"type:varchar(36)"`
	MeetingTitle string              `json:"meetingTitle,omitempty" gorm:"type:varchar(500)"`
}

func (Task) TableName() string {
	return "tasks"
}
