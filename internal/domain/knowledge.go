package domain

import "time"

// IngredientTerm is slowly-changing reference data consumed read-only by
// the reply-generation collaborator (e.g. to exclude ingredients a user
// cannot eat). No concurrency concerns: rows are loaded by migrations or
// external tooling and never written by the worker.
type IngredientTerm struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Term      string    `gorm:"type:varchar(128);not null;uniqueIndex:ux_ingredient_term"`
	Category  string    `gorm:"type:varchar(64);index"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName implements the GORM tabler interface.
func (IngredientTerm) TableName() string { return "ingredient_terms" }

// ContentTag labels knowledge-base content for the reply generator.
// Read-only from the worker's perspective, like IngredientTerm.
type ContentTag struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Tag       string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_content_tag"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName implements the GORM tabler interface.
func (ContentTag) TableName() string { return "content_tags" }
