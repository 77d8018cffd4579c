package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/go-chat-worker/internal/domain"
)

func TestListIngredientTerms_SortedAndFiltered(t *testing.T) {
	db := newRepoDB(t, &domain.IngredientTerm{})
	ctx := context.Background()
	now := time.Now().UTC()

	for _, row := range []domain.IngredientTerm{
		{ID: uuid.NewString(), Term: "walnut", Category: "nut", CreatedAt: now},
		{ID: uuid.NewString(), Term: "almond", Category: "nut", CreatedAt: now},
		{ID: uuid.NewString(), Term: "basil", Category: "herb", CreatedAt: now},
	} {
		if err := db.Create(&row).Error; err != nil {
			t.Fatalf("seed %s: %v", row.Term, err)
		}
	}

	all, err := ListIngredientTerms(ctx, db, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].Term != "almond" || all[2].Term != "walnut" {
		t.Fatalf("unexpected order: %+v", all)
	}

	nuts, err := ListIngredientTerms(ctx, db, "nut")
	if err != nil {
		t.Fatalf("list nuts: %v", err)
	}
	if len(nuts) != 2 {
		t.Fatalf("category filter failed: %+v", nuts)
	}
}

func TestListContentTags_Sorted(t *testing.T) {
	db := newRepoDB(t, &domain.ContentTag{})
	ctx := context.Background()
	now := time.Now().UTC()

	for _, tag := range []string{"dessert", "breakfast"} {
		if err := db.Create(&domain.ContentTag{ID: uuid.NewString(), Tag: tag, CreatedAt: now}).Error; err != nil {
			t.Fatalf("seed %s: %v", tag, err)
		}
	}

	tags, err := ListContentTags(ctx, db)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tags) != 2 || tags[0].Tag != "breakfast" {
		t.Fatalf("unexpected tags: %+v", tags)
	}
}
