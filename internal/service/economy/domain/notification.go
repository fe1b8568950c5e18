// internal/service/economy/domain/notification.go
package domain

import "time"

// NotificationType 通知类型标签
type NotificationType string

const (
	NotificationCertification NotificationType = "certification"
	NotificationLetter        NotificationType = "letter"
	NotificationReport        NotificationType = "report"
	NotificationBonus         NotificationType = "bonus"
)

// Notification 是发给单个用户的通知记录，已读状态由客户端维护
type Notification struct {
	ID        string            `json:"id"`
	EventID   string            `json:"eventId"`
	UID       string            `json:"uid"`
	Type      NotificationType  `json:"type"`
	Payload   map[string]string `json:"payload"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"createdAt"`
}
