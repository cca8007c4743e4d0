package notifications

import "time"

// Notification is a durable, per-recipient record of a vote event. Rows move
// from unread to read and are never deleted here; disappearing from the live
// feed is a client display concern only.
type Notification struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	UserID    string    `gorm:"column:user_id;size:190;not null;index:idx_notifications_user_created,priority:1"`
	ActorName string    `gorm:"column:actor_name;size:190;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_notifications_user_created,priority:2"`
	IsRead    bool      `gorm:"column:is_read;not null;default:false"`
}

// TableName exposes the table backing notifications.
func (Notification) TableName() string {
	return "notifications"
}

// Message renders the display text for the recipient. The actor name is the
// voter's display name as it was at vote time.
func (n Notification) Message() string {
	return n.ActorName + " voted for you!"
}
