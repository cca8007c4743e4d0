package articles

import "time"

// Article is a blog entry managed from the admin section. Content is raw
// markdown stored as written; rendering is the consumer's concern.
type Article struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	AuthorID  string    `gorm:"column:author_id;size:190;not null;index"`
	Title     string    `gorm:"column:title;size:320;not null"`
	Excerpt   string    `gorm:"column:excerpt;type:text"`
	Content   string    `gorm:"column:content;type:text"`
	ImagePath string    `gorm:"column:image_path;size:512"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing articles.
func (Article) TableName() string {
	return "articles"
}
