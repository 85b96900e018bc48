package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	domain "github.com/shopora/checkout/internal/domain"
	"github.com/shopora/checkout/internal/repositories"
)

func TestCartRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, err := NewCartRepository(filepath.Join(t.TempDir(), "cart.json"))
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}

	lines, err := repo.Lines(ctx)
	if err != nil {
		t.Fatalf("lines on empty store: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected empty store, got %d lines", len(lines))
	}

	now := time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)
	want := []domain.CartLine{
		{ProductID: "5f1a7caf8bd0a23f4c1d2e01", Quantity: 3, AddedAt: now},
		{ProductID: "5f1a7caf8bd0a23f4c1d2e02", Quantity: 1, AddedAt: now.Add(time.Minute)},
	}
	if err := repo.ReplaceLines(ctx, want); err != nil {
		t.Fatalf("replace lines: %v", err)
	}

	got, err := repo.Lines(ctx)
	if err != nil {
		t.Fatalf("lines: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got))
	}
	if got[0].ProductID != want[0].ProductID || got[0].Quantity != 3 {
		t.Fatalf("insertion order not preserved: %+v", got)
	}
}

func TestCartRepositorySurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cart.json")

	repo, err := NewCartRepository(path)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	lines := []domain.CartLine{{ProductID: "5f1a7caf8bd0a23f4c1d2e01", Quantity: 2, AddedAt: time.Now().UTC()}}
	if err := repo.ReplaceLines(ctx, lines); err != nil {
		t.Fatalf("replace lines: %v", err)
	}

	reopened, err := NewCartRepository(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Lines(ctx)
	if err != nil {
		t.Fatalf("lines after reopen: %v", err)
	}
	if len(got) != 1 || got[0].Quantity != 2 {
		t.Fatalf("state did not survive restart: %+v", got)
	}
}

func TestCartRepositoryClear(t *testing.T) {
	ctx := context.Background()
	repo, err := NewCartRepository(filepath.Join(t.TempDir(), "cart.json"))
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	if err := repo.ReplaceLines(ctx, []domain.CartLine{{ProductID: "5f1a7caf8bd0a23f4c1d2e01", Quantity: 1, AddedAt: time.Now()}}); err != nil {
		t.Fatalf("replace lines: %v", err)
	}
	if err := repo.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err := repo.Lines(ctx)
	if err != nil {
		t.Fatalf("lines: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected cleared store, got %+v", got)
	}
}

func TestCartRepositoryRejectsCorruptStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cart.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}

	repo, err := NewCartRepository(path)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	_, err = repo.Lines(ctx)
	if err == nil {
		t.Fatal("expected error for corrupt store")
	}
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict repository error, got %v", err)
	}
}

func TestCartRepositoryRejectsNonPositiveQuantity(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cart.json")
	if err := os.WriteFile(path, []byte(`[{"productId":"5f1a7caf8bd0a23f4c1d2e01","quantity":0}]`), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	repo, err := NewCartRepository(path)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	if _, err := repo.Lines(ctx); err == nil {
		t.Fatal("expected error for zero-quantity persisted line")
	}
}
