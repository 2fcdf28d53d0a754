package store

import (
	"context"
	"errors"
	"testing"

	"github.com/erazemk/ferme/internal/db"
	"github.com/erazemk/ferme/internal/model"
)

func TestAddStockMerges(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	first, err := AddStock(ctx, database, "farm-a", "Engrais", "", 5, "")
	if err != nil {
		t.Fatalf("AddStock: %v", err)
	}
	if first.Unit != model.DefaultUnit {
		t.Errorf("expected default unit, got %q", first.Unit)
	}

	second, err := AddStock(ctx, database, "farm-a", "  engrais ", "sacs", 3, "")
	if err != nil {
		t.Fatalf("AddStock: %v", err)
	}
	if second.ID != first.ID {
		t.Error("expected the existing record to be reused")
	}
	if second.Quantity != 8 || second.Item != "Engrais" {
		t.Errorf("expected Engrais at 8, got %q at %d", second.Item, second.Quantity)
	}

	other, _ := AddStock(ctx, database, "farm-b", "Engrais", "", 1, "")
	if other.ID == first.ID {
		t.Error("expected a separate record for another farm")
	}
}

func TestAddStockValidation(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	var ve *model.ValidationError

	if _, err := AddStock(ctx, database, "farm-a", " ", "", 1, ""); !errors.As(err, &ve) || ve.Field != "item" {
		t.Errorf("expected item ValidationError, got %v", err)
	}
	if _, err := AddStock(ctx, database, "", "Seeds", "", 1, ""); !errors.As(err, &ve) || ve.Field != "secteur_id" {
		t.Errorf("expected secteur_id ValidationError, got %v", err)
	}
	if _, err := AddStock(ctx, database, "farm-a", "Seeds", "", -1, ""); !errors.As(err, &ve) || ve.Field != "quantity" {
		t.Errorf("expected quantity ValidationError, got %v", err)
	}
}

func TestListStocksSearch(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	CreateFarm(ctx, database, "farm-a", "Ferme A")
	AddStock(ctx, database, "farm-a", "Gloves", "", 1, "")
	AddStock(ctx, database, "farm-a", "Seeds", "", 1, "")
	AddStock(ctx, database, "farm-b", "Work gloves", "", 1, "")

	all, err := ListStocks(ctx, database, "", "")
	if err != nil {
		t.Fatalf("ListStocks: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 records, got %d", len(all))
	}
	if all[0].FarmName != "Ferme A" {
		t.Errorf("expected joined farm name, got %q", all[0].FarmName)
	}

	gloves, _ := ListStocks(ctx, database, "", "GLOVE")
	if len(gloves) != 2 {
		t.Errorf("expected 2 glove records, got %d", len(gloves))
	}
	farmA, _ := ListStocks(ctx, database, "farm-a", "glove")
	if len(farmA) != 1 {
		t.Errorf("expected 1 glove record at farm-a, got %d", len(farmA))
	}
}

func TestUpdateAndDeleteStock(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()

	seeds, _ := AddStock(ctx, database, "farm-a", "Seeds", "kg", 10, "")
	AddStock(ctx, database, "farm-a", "Gloves", "", 1, "")

	if err := UpdateStock(ctx, database, seeds.ID, "Seeds", 0, "empty"); err != nil {
		t.Fatalf("UpdateStock: %v", err)
	}
	got, _ := GetStock(ctx, database, seeds.ID)
	if got.Quantity != 0 || got.Notes != "empty" {
		t.Errorf("unexpected stock after update: %+v", got)
	}

	var ve *model.ValidationError
	if err := UpdateStock(ctx, database, seeds.ID, "gloves", 1, ""); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError renaming onto an existing item, got %v", err)
	}
	if err := UpdateStock(ctx, database, seeds.ID, "Seeds", -1, ""); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for negative quantity, got %v", err)
	}

	if err := DeleteStock(ctx, database, seeds.ID); err != nil {
		t.Fatalf("DeleteStock: %v", err)
	}
	var nf *model.NotFoundError
	if err := DeleteStock(ctx, database, seeds.ID); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError, got %v", err)
	}
	if got, _ := GetStock(ctx, database, seeds.ID); got != nil {
		t.Error("expected stock to be gone")
	}
}
