package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/imrishuroy/go-shop-orderflow/internal/domain"
)

func TestReservation_RollbackOnShortage(t *testing.T) {
	a, store := newTestAuthority(0, product("p1", 10), product("p2", 1))
	ctx := context.Background()

	r := a.Begin()
	if _, err := r.Reserve(ctx, "p1", 3); err != nil {
		t.Fatalf("reserve p1: %v", err)
	}
	if _, err := r.Reserve(ctx, "p2", 5); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock for p2, got %v", err)
	}
	if got := stockOf(t, store, "p1"); got != 7 {
		t.Fatalf("p1 should be held at 7 before rollback, got %d", got)
	}
	if err := r.Rollback(ctx); err != nil {
		t.Fatalf("Rollback error: %v", err)
	}

	if got := stockOf(t, store, "p1"); got != 10 {
		t.Fatalf("p1 should be restored to 10, got %d", got)
	}
	if got := stockOf(t, store, "p2"); got != 1 {
		t.Fatalf("p2 should be untouched, got %d", got)
	}
}

func TestReservation_CommitKeepsStock(t *testing.T) {
	a, store := newTestAuthority(0, product("p1", 10))
	ctx := context.Background()

	r := a.Begin()
	if _, err := r.Reserve(ctx, "p1", 4); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	r.Commit()
	if err := r.Rollback(ctx); err != nil {
		t.Fatalf("rollback after commit should be a no-op, got %v", err)
	}
	if got := stockOf(t, store, "p1"); got != 6 {
		t.Fatalf("expected 6, got %d", got)
	}
	if _, err := r.Reserve(ctx, "p1", 1); err == nil {
		t.Fatal("expected reserve on a committed reservation to fail")
	}
}

func TestReservation_RollbackSurvivesCancelledContext(t *testing.T) {
	a, store := newTestAuthority(0, product("p1", 10))
	ctx, cancel := context.WithCancel(context.Background())

	r := a.Begin()
	if _, err := r.Reserve(ctx, "p1", 4); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	cancel()
	if err := r.Rollback(ctx); err != nil {
		t.Fatalf("Rollback error: %v", err)
	}
	if got := stockOf(t, store, "p1"); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
}

func TestReleaseAll(t *testing.T) {
	a, store := newTestAuthority(0, product("p1", 0), product("p2", 0))

	err := a.ReleaseAll(context.Background(), []Line{{"p1", 2}, {"p2", 3}})
	if err != nil {
		t.Fatalf("ReleaseAll error: %v", err)
	}
	if stockOf(t, store, "p1") != 2 || stockOf(t, store, "p2") != 3 {
		t.Fatal("stock not released")
	}
}

func TestReleaseAll_UndoesPartialRelease(t *testing.T) {
	a, store := newTestAuthority(0, product("p1", 0), product("p2", 0))

	err := a.ReleaseAll(context.Background(), []Line{{"p1", 2}, {"p2", 3}, {"gone", 1}})
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	if stockOf(t, store, "p1") != 0 || stockOf(t, store, "p2") != 0 {
		t.Fatalf("partial release not undone: p1=%d p2=%d", stockOf(t, store, "p1"), stockOf(t, store, "p2"))
	}
}
