package entities

import "time"

// SurnameMapping assigns a caste category to a normalized surname. Inactive
// rows are kept for history and ignored by lookups.
type SurnameMapping struct {
	ID         uint      `gorm:"primaryKey"`
	Surname    string    `gorm:"size:100;not null;uniqueIndex:idx_surname_mappings_surname"`
	CasteGroup string    `gorm:"size:20;not null;index:idx_surname_mappings_caste"`
	IsActive   bool      `gorm:"not null;default:true;index:idx_surname_mappings_active"`
	Notes      string    `gorm:"size:255"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (SurnameMapping) TableName() string {
	return "surname_mappings"
}
