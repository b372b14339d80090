package notify

import "encoding/json"

// Notification is the fire-and-forget payload accepted by the dispatcher:
// who to tell, what kind of event, and the human-readable text.
type Notification struct {
	NotificationID string          `gorm:"column:notification_id;primaryKey;size:190;not null" json:"id"`
	UserID         string          `gorm:"column:user_id;size:190;not null;index:idx_notifications_user_read,priority:1" json:"user_id"`
	Type           string          `gorm:"column:type;size:64;not null" json:"type"`
	Title          string          `gorm:"column:title;size:320;not null" json:"title"`
	Message        string          `gorm:"column:message;type:text;not null;default:''" json:"message"`
	Data           json.RawMessage `gorm:"column:data;type:text" json:"data,omitempty"`
	Read           bool            `gorm:"column:read;not null;default:false;index:idx_notifications_user_read,priority:2" json:"read"`
	CreatedAtS     int64           `gorm:"column:created_at_s;not null" json:"created_at_s"`
}

// TableName provides the explicit table binding for GORM.
func (Notification) TableName() string {
	return "notifications"
}
