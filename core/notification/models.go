package notification

import (
	"time"
)

// Kinds
const (
	KindRankChanged   = "rank_changed"
	KindPointsChanged = "points_changed"
	KindTaskAssigned  = "task_assigned"
	KindTaskReviewed  = "task_reviewed"
	KindTaskExpired   = "task_expired"
)

type Notification struct {
	ID        string                 `json:"id"`
	UserID    string                 `json:"user_id"`
	Kind      string                 `json:"kind"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Data      map[string]interface{} `json:"data,omitempty"`
	IsRead    bool                   `json:"is_read"`
	CreatedAt time.Time              `json:"created_at"` // UTC
}

// NewNotification contains information needed to send a Notification.
type NewNotification struct {
	UserID string
	Kind   string
	Title  string
	Body   string
	Data   map[string]interface{}
}

type QueryFilter struct {
	UserID     string `query:"-"`
	UnreadOnly bool   `query:"unread"`
	Limit      int    `query:"limit"`
	Offset     int    `query:"offset"`
}

// MarkRead lists the notifications to mark as read.
type MarkRead struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}
