// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides read-only access to reply-generation
// reference data.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-chat-worker/internal/domain"
)

// ListIngredientTerms returns all ingredient terms, optionally filtered
// by category. The table is reference data maintained outside the worker.
func ListIngredientTerms(ctx context.Context, db *gorm.DB, category string) ([]domain.IngredientTerm, error) {
	var out []domain.IngredientTerm
	q := db.WithContext(ctx).Order("term ASC")
	if category != "" {
		q = q.Where("category = ?", category)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListContentTags returns all content tags in alphabetical order.
func ListContentTags(ctx context.Context, db *gorm.DB) ([]domain.ContentTag, error) {
	var out []domain.ContentTag
	err := db.WithContext(ctx).Order("tag ASC").Find(&out).Error
	return out, err
}
